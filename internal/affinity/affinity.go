// Package affinity pins the calling goroutine's underlying OS thread to a
// specific CPU, realizing the "OS thread handle" attribute of spec §3's
// Worker data model on platforms that support it. Mirrors the eventloop
// package's per-OS poller split (poller_linux.go/poller_darwin.go/
// poller_windows.go, each behind a //go:build tag) rather than attempting a
// single cross-platform code path.
package affinity

import "errors"

// ErrUnsupported is returned by Pin on platforms with no wired affinity
// syscall (every target but linux, currently).
var ErrUnsupported = errors.New("affinity: not supported on this platform")

// Pin locks the calling goroutine to its current OS thread (via
// runtime.LockOSThread) and, where the platform supports it, restricts that
// thread to running on the given CPU index. The goroutine must not call
// runtime.UnlockOSThread itself afterwards; callers that want to release
// the pin should use Unpin.
//
// On platforms without a supported affinity syscall, Pin still locks the
// OS thread (so a worker's thread identity is at least stable) but leaves
// scheduling unconstrained, and returns ErrUnsupported.
func Pin(cpu int) error {
	return pin(cpu)
}

// Unpin releases a goroutine's OS thread lock taken by Pin.
func Unpin() {
	unpin()
}
