package fimocore

import "github.com/fimoengine/fimocore/internal/ferrors"

// Error kinds, one struct type per failure mode in the error taxonomy,
// aliased from internal/ferrors so that pool and the other subpackages can
// return the same concrete types without importing this package (which
// itself depends on pool for Context's subsystem wiring).

type (
	InvalidConfigError       = ferrors.InvalidConfigError
	OutOfMemoryError         = ferrors.OutOfMemoryError
	ClosedError              = ferrors.ClosedError
	TimeoutError             = ferrors.TimeoutError
	InvalidError             = ferrors.InvalidError
	NotPermittedError        = ferrors.NotPermittedError
	NotFoundError            = ferrors.NotFoundError
	VersionNotSupportedError = ferrors.VersionNotSupportedError
)

// WrapError wraps an error with a message, preserving it as the cause for
// errors.Is/errors.As matching.
func WrapError(message string, cause error) error {
	return ferrors.WrapError(message, cause)
}

// Sentinel values for errors.Is matching against the zero-valued kinds.
var (
	ErrClosed  = ferrors.ErrClosed
	ErrTimeout = ferrors.ErrTimeout
	ErrInvalid = ferrors.ErrInvalid
)
