//go:build windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detach starts the child in its own process group
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
