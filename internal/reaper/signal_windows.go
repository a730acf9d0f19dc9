//go:build windows

package reaper

import (
	"os"
)

// signalProcess terminates a Windows process. Windows has no interceptable
// termination signal, so graceful and forced collapse to Kill; a process
// that already exited is treated as success.
func signalProcess(pid int32, _ Strength) error {
	p, err := os.FindProcess(int(pid))
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// "process already finished" also means the goal state holds.
		if err.Error() == "os: process already finished" {
			return nil
		}
		return err
	}
	return nil
}
