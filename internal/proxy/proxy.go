// Package proxy manages the proxy process under test.
//
// The proxy is launched as
//
//	<exe> [args...] <frontend_bind> <metrics_bind> <backend_location>
//
// where both binds are host:port strings and the backend location is passed
// through verbatim.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pgharness/internal/cleanup"
	"pgharness/internal/fixerr"
	"pgharness/internal/metrics"
	"pgharness/internal/ports"
	"pgharness/internal/process"
	"pgharness/pkg/logging"
)

// State is the lifecycle position of a Proxy.
type State int

const (
	Unstarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures how the proxy is launched and supervised.
type Options struct {
	// Path is the proxy executable.
	Path string
	// Args are inserted before the three positional arguments.
	Args []string
	// Env is added to the inherited environment.
	Env []string
	// Host is the interface both binds use.
	Host string

	ShutdownGrace time.Duration
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	// ProbeFrontend adds a TCP dial of the frontend to readiness checks.
	ProbeFrontend bool

	// Metrics scrapes the metrics bind during readiness checks.
	Metrics *metrics.Client
}

const (
	DefaultReadyTimeout  = 10 * time.Second
	DefaultReadyInterval = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = ports.DefaultHost
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = process.DefaultGrace
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = DefaultReadyInterval
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewClient(metrics.Options{})
	}
	return o
}

// Proxy is the handle for one proxy process within a scenario.
type Proxy struct {
	name         string
	opts         Options
	frontendPort int
	metricsPort  int
	cleanups     cleanup.Registrar

	mu       sync.Mutex
	state    State
	location string
	proc     *process.Process
}

// New returns an unstarted handle bound to the two given ports. Stop is
// registered with cleanups when the handle starts.
func New(name string, frontendPort, metricsPort int, cleanups cleanup.Registrar, opts Options) *Proxy {
	return &Proxy{
		name:         name,
		opts:         opts.withDefaults(),
		frontendPort: frontendPort,
		metricsPort:  metricsPort,
		cleanups:     cleanups,
	}
}

// Name returns the registry name of the handle.
func (p *Proxy) Name() string { return p.name }

// Host returns the interface the proxy binds.
func (p *Proxy) Host() string { return p.opts.Host }

// Port returns the frontend port.
func (p *Proxy) Port() int { return p.frontendPort }

// FrontendAddress is where clients connect.
func (p *Proxy) FrontendAddress() string { return ports.Address(p.opts.Host, p.frontendPort) }

// MetricsAddress is where the exposition is served.
func (p *Proxy) MetricsAddress() string { return ports.Address(p.opts.Host, p.metricsPort) }

// BackendLocation returns the configured location, empty until Configure.
func (p *Proxy) BackendLocation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

// State returns the lifecycle state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Configure sets the backend location. It is only allowed before Start.
func (p *Proxy) Configure(location string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Unstarted {
		return fixerr.Usage("cannot configure %s while %s", p.name, p.state)
	}
	if location == "" {
		return fixerr.Usage("empty backend location for %s", p.name)
	}
	p.location = location
	logging.Debug("Proxy", "Configured %s with backend %q", p.name, location)
	return nil
}

// Start launches the proxy and registers Stop for cleanup.
func (p *Proxy) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Unstarted {
		return fixerr.Usage("%s already %s", p.name, p.state)
	}
	if p.location == "" {
		return fixerr.Usage("%s has no backend location configured", p.name)
	}

	args := append(append([]string(nil), p.opts.Args...),
		ports.Address(p.opts.Host, p.frontendPort),
		ports.Address(p.opts.Host, p.metricsPort),
		p.location,
	)
	proc, err := process.Start(process.Spec{
		Name: p.name,
		Path: p.opts.Path,
		Args: args,
		Env:  p.opts.Env,
	})
	if err != nil {
		return err
	}
	p.proc = proc
	p.state = Running

	if err := p.cleanups.Push("stop "+p.name, p.Stop); err != nil {
		p.stopLocked()
		return err
	}

	logging.Info("Proxy", "Started %s (PID: %d) frontend=%s metrics=%s backend=%q",
		p.name, proc.Pid(), p.FrontendAddress(), p.MetricsAddress(), p.location)
	return nil
}

// Stop terminates the proxy. Calling it on an unstarted or stopped handle
// is a no-op.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Proxy) stopLocked() error {
	if p.state != Running {
		return nil
	}
	p.state = Stopped

	err := p.proc.Terminate(p.opts.ShutdownGrace)
	if err != nil {
		logging.Error("Proxy", err, "Failed to stop %s", p.name)
		return err
	}
	logging.Info("Proxy", "Stopped %s", p.name)
	return nil
}

// Output returns everything the process wrote to stdout and stderr, empty
// if it never started.
func (p *Proxy) Output() string {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()

	if proc == nil {
		return ""
	}
	return proc.Logs().Combined
}

// Exited reports whether a started proxy has exited, and with what result.
func (p *Proxy) Exited() (bool, error) {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()

	if proc == nil || !proc.Exited() {
		return false, nil
	}
	return true, proc.ExitErr()
}
