//go:build linux

package gateway

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// setRealtimePriority pins the calling goroutine to its OS thread and
// requests SCHED_FIFO at the given priority. Best effort: without the
// needed capability the kernel refuses and the caller logs a warning.
func setRealtimePriority(prio int) error {
	if prio < 1 {
		return nil
	}
	if prio > 99 {
		prio = 99
	}

	// The controller loop stays on this thread for the process lifetime.
	runtime.LockOSThread()

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}
