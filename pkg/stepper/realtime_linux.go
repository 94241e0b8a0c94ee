//go:build linux

package stepper

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// SetRealtimePriority pins the calling goroutine to its OS thread and
// switches that thread to SCHED_FIFO at the given priority (1..99),
// so the executor pump outranks the main loop under load.
// Requires CAP_SYS_NICE; callers treat failure as advisory.
func SetRealtimePriority(priority int) error {
	if priority < 1 {
		priority = 1
	}
	if priority > 99 {
		priority = 99
	}
	runtime.LockOSThread()
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}
