//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// detachSysAttrs places the child in its own process group so it survives
// the launcher exiting and never receives the launcher's terminal signals.
func detachSysAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
