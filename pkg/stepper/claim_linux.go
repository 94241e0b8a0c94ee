//go:build linux

package stepper

import (
	"golang.org/x/sys/unix"
)

// claimDevice takes an advisory exclusive lock on the device node so
// two hosts cannot drive the same pulse generator. The returned fd must
// stay open for the lifetime of the claim.
func claimDevice(device string) (int, error) {
	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func releaseDevice(fd int) {
	if fd < 0 {
		return
	}
	unix.Flock(fd, unix.LOCK_UN)
	unix.Close(fd)
}
