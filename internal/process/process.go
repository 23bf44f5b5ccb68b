// Package process runs and tears down fixture child processes.
//
// Each child runs in its own process group so that stopping it also stops
// anything it forked. Output is captured in memory for diagnostics.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"
)

// DefaultGrace is how long Terminate waits between the polite and the
// forced signal.
const DefaultGrace = 10 * time.Second

// pipeDrainDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren after the child itself exited.
const pipeDrainDelay = 2 * time.Second

// Spec describes a child process.
type Spec struct {
	// Name identifies the process in logs.
	Name string
	Path string
	Args []string
	// Env is appended to the current environment.
	Env []string
	Dir string
}

// CommandLine renders the spec for logs.
func (s Spec) CommandLine() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// Process is a started child.
type Process struct {
	name    string
	cmd     *exec.Cmd
	capture *logCapture

	done    chan struct{}
	waitErr error

	termMu     sync.Mutex
	terminated bool
}

// Start launches spec. The child is not bound to any context: its lifetime
// ends with Terminate.
func Start(spec Spec) (*Process, error) {
	if spec.Path == "" {
		return nil, fixerr.Usage("process %q has no executable", spec.Name)
	}
	if spec.Name == "" {
		spec.Name = spec.Path
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcAttr(cmd)

	capture := newLogCapture()
	cmd.Stdout = capture.stdoutWriter()
	cmd.Stderr = capture.stderrWriter()
	cmd.WaitDelay = pipeDrainDelay

	logging.Debug("Process", "🚀 Starting %s: %s", spec.Name, spec.CommandLine())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", fixerr.ErrProcess, spec.Name, err)
	}

	p := &Process{
		name:    spec.Name,
		cmd:     cmd,
		capture: capture,
		done:    make(chan struct{}),
	}
	go p.wait()

	logging.Debug("Process", "Started %s (PID: %d)", p.name, p.Pid())
	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Pid returns the child's process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has exited and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the child has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the result of waiting on the child. It is nil while the
// child runs and after a zero exit status.
func (p *Process) ExitErr() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// Logs returns the output captured so far.
func (p *Process) Logs() Logs { return p.capture.logs() }

// Terminate stops the process group: a polite signal first, then a forced
// kill once grace elapses. It is safe to call more than once and after the
// child exited on its own.
func (p *Process) Terminate(grace time.Duration) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()

	if p.terminated {
		return nil
	}
	p.terminated = true

	if p.Exited() {
		// Reap anything the child left behind.
		_ = reapGroup(p.cmd.Process)
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	logging.Debug("Process", "🛑 Shutting down process group for %s (PID: %d)", p.name, p.Pid())
	if err := terminateGroup(p.cmd.Process); err != nil {
		logging.Debug("Process", "⚠️  Failed to signal process group %d: %v", p.Pid(), err)
	}

	select {
	case <-p.done:
		logging.Debug("Process", "✅ Process %s exited: %v", p.name, describeExit(p.waitErr))
		_ = reapGroup(p.cmd.Process)
		return nil
	case <-time.After(grace):
		logging.Debug("Process", "⏰ Graceful shutdown timeout for %s, killing process group", p.name)
	}

	if err := killGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%w: kill %s: %v", fixerr.ErrProcess, p.name, err)
	}
	<-p.done
	return nil
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
