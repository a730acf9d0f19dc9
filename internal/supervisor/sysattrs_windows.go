//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// detachSysAttrs detaches the child from the launcher's console and process
// group so it survives the launcher exiting.
func detachSysAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
