//go:build !windows

package session

import (
	"errors"

	"golang.org/x/sys/unix"
)

// probeProcess sends signal 0, which performs the existence and permission
// checks without delivering anything.
func probeProcess(pid int) Liveness {
	if pid <= 0 {
		return LivenessUnknown
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return LivenessAlive
	case errors.Is(err, unix.ESRCH):
		return LivenessDead
	default:
		// EPERM: the process exists but is owned by someone else.
		return LivenessUnknown
	}
}
