//go:build linux

package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func pin(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// Gettid has no non-zero-meaning argument for "current thread" across
	// unix.SchedSetaffinity's signature; 0 means the calling thread.
	return unix.SchedSetaffinity(0, &set)
}

func unpin() {
	runtime.UnlockOSThread()
}
