//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr starts the child in a new process group. Windows has no
// group-wide signal delivery, so termination targets the child only.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}

// reapGroup is a no-op: the child has been waited for and Windows offers no
// group-wide kill.
func reapGroup(p *os.Process) error {
	return nil
}
