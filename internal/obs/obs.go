// Package obs wires the runtime's diagnostic output through logiface, the
// same structured-logging facade the eventloop package's logging.go
// documents as a "Design Decision": logging is a cross-cutting concern best
// configured once, package-level, rather than threaded through every
// constructor. Here the default backend is stumpy, logiface's JSON logger.
package obs

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var global struct {
	sync.RWMutex
	logger *logiface.Logger[*stumpy.Event]
}

func init() {
	global.logger = logiface.New[*stumpy.Event](
		stumpy.WithStumpy(),
	)
}

// SetLogger replaces the package-level logger that pools, workers and trace
// registries log through.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	global.Lock()
	defer global.Unlock()
	global.logger = l
}

// Logger returns the current package-level logger.
func Logger() *logiface.Logger[*stumpy.Event] {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}
