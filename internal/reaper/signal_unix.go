//go:build !windows

package reaper

import (
	"errors"
	"syscall"
)

// signalProcess sends SIGTERM or SIGKILL to a Unix process. ESRCH means the
// process exited between enumeration and delivery; that is the state we
// wanted, so it is not an error.
func signalProcess(pid int32, strength Strength) error {
	sig := syscall.SIGTERM
	if strength == Forced {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(int(pid), sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
