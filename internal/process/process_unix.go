//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group so the whole
// group can be signalled later.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func terminateGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

func killGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

// reapGroup kills whatever is left of the group after the leader has been
// waited for. Only the group is signalled: the leader's PID may already
// belong to another process.
func reapGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to signal process group -%d: %v", p.Pid, err)
	}
	return nil
}

// signalGroup signals the process group led by p, falling back to p alone.
// The fallback goes through os.Process, which refuses to signal a child that
// has already been waited for.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		if err2 := p.Signal(sig); err2 != nil {
			if errors.Is(err2, os.ErrProcessDone) {
				return os.ErrProcessDone
			}
			return fmt.Errorf("failed to signal process group -%d: %v, also failed to signal process %d: %v", p.Pid, err, p.Pid, err2)
		}
	}
	return nil
}
