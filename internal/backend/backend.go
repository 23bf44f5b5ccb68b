// Package backend sequences the lifecycle of one database server fixture.
//
// The server itself is provided by a fixture library behind the Instance
// interface; pgnode is the implementation used against real PostgreSQL.
package backend

import (
	"context"
	"fmt"
	"sync"

	"pgharness/internal/cleanup"
	"pgharness/internal/fixerr"
	"pgharness/internal/ports"
	"pgharness/pkg/logging"
)

// Location is where a running backend accepts connections.
type Location struct {
	Host string
	Port int
}

// Address returns host:port.
func (l Location) Address() string { return ports.Address(l.Host, l.Port) }

// ConnString returns a libpq keyword/value string for l.
func (l Location) ConnString(sslmode string) string {
	if sslmode == "" {
		sslmode = "prefer"
	}
	return fmt.Sprintf("host=%s port=%d sslmode=%s", l.Host, l.Port, sslmode)
}

// Instance is a server created by a fixture library.
type Instance interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// ConfigureTrust allows unauthenticated local connections.
	ConfigureTrust(ctx context.Context) error
	Location() Location
	// Cleanup stops the server if needed and removes everything it created.
	Cleanup() error
}

// Initializer creates the instance for a named backend.
type Initializer func(ctx context.Context, name string) (Instance, error)

// State is the lifecycle position of a Handle.
type State int

const (
	Uninitialized State = iota
	Initialized
	Running
	CleanedUp
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case CleanedUp:
		return "cleaned-up"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle owns one named backend within a scenario.
type Handle struct {
	name     string
	initFn   Initializer
	cleanups cleanup.Registrar

	mu    sync.Mutex
	state State
	inst  Instance
}

// New returns an uninitialized handle. Teardown is registered with cleanups
// as resources are acquired.
func New(name string, initFn Initializer, cleanups cleanup.Registrar) *Handle {
	return &Handle{name: name, initFn: initFn, cleanups: cleanups}
}

// Name returns the registry name of the backend.
func (h *Handle) Name() string { return h.name }

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Init creates the instance and registers its cleanup, so an instance that
// never starts is still removed.
func (h *Handle) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Uninitialized {
		return fixerr.Usage("backend %q already %s", h.name, h.state)
	}
	inst, err := h.initFn(ctx, h.name)
	if err != nil {
		return fmt.Errorf("initialize backend %q: %w", h.name, err)
	}
	h.inst = inst
	h.state = Initialized

	if err := h.cleanups.Push("cleanup "+h.name, h.Cleanup); err != nil {
		h.cleanupLocked()
		return err
	}
	logging.Debug("Backend", "Initialized %s", h.name)
	return nil
}

// Start brings the server online and registers Stop for cleanup.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Initialized {
		return fixerr.Usage("cannot start backend %q while %s", h.name, h.state)
	}
	if err := h.inst.Start(ctx); err != nil {
		return fmt.Errorf("start backend %q: %w", h.name, err)
	}
	h.state = Running

	if err := h.cleanups.Push("stop "+h.name, func() error { return h.Stop(context.Background()) }); err != nil {
		_ = h.stopLocked(context.Background())
		return err
	}
	logging.Info("Backend", "Started %s at %s", h.name, h.inst.Location().Address())
	return nil
}

// Stop takes a running server offline. Other states are a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopLocked(ctx)
}

func (h *Handle) stopLocked(ctx context.Context) error {
	if h.state != Running {
		return nil
	}
	h.state = Initialized
	if err := h.inst.Stop(ctx); err != nil {
		return fmt.Errorf("stop backend %q: %w", h.name, err)
	}
	logging.Info("Backend", "Stopped %s", h.name)
	return nil
}

// ConfigureTrust relaxes authentication on the instance, before or after
// start.
func (h *Handle) ConfigureTrust(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Initialized && h.state != Running {
		return fixerr.Usage("cannot configure backend %q while %s", h.name, h.state)
	}
	if err := h.inst.ConfigureTrust(ctx); err != nil {
		return fmt.Errorf("configure trust on backend %q: %w", h.name, err)
	}
	logging.Debug("Backend", "Configured %s to trust local connections", h.name)
	return nil
}

// Cleanup removes the instance from any state. It is idempotent.
func (h *Handle) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleanupLocked()
}

func (h *Handle) cleanupLocked() error {
	if h.state == CleanedUp {
		return nil
	}
	inst := h.inst
	h.state = CleanedUp
	if inst == nil {
		return nil
	}
	if err := inst.Cleanup(); err != nil {
		return fmt.Errorf("cleanup backend %q: %w", h.name, err)
	}
	logging.Debug("Backend", "Cleaned up %s", h.name)
	return nil
}

// Location returns where the backend listens. It is only defined while
// running.
func (h *Handle) Location() (Location, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Running {
		return Location{}, fixerr.Usage("backend %q has no location while %s", h.name, h.state)
	}
	return h.inst.Location(), nil
}

// Host returns the host of a running backend, empty otherwise.
func (h *Handle) Host() string {
	loc, err := h.Location()
	if err != nil {
		return ""
	}
	return loc.Host
}

// Port returns the port of a running backend, zero otherwise.
func (h *Handle) Port() int {
	loc, err := h.Location()
	if err != nil {
		return 0
	}
	return loc.Port
}

// ConnString returns the keyword/value location of a running backend.
func (h *Handle) ConnString(sslmode string) (string, error) {
	loc, err := h.Location()
	if err != nil {
		return "", err
	}
	return loc.ConnString(sslmode), nil
}
