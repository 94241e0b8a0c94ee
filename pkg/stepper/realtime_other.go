//go:build !linux

package stepper

// Realtime scheduling is only supported on Linux.
func SetRealtimePriority(priority int) error {
	return nil
}
