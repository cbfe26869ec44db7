//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processExists checks if a process with the given PID exists
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 checks existence without delivering anything
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM: alive but owned by someone else
	return errors.Is(err, unix.EPERM)
}
