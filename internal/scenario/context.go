// Package scenario holds the fixture state of one test scenario.
//
// A Context is created when a scenario starts and closed when it ends,
// whatever the outcome. Handles are built lazily on first reference and
// every resource they acquire is released in reverse order on Close.
package scenario

import (
	"context"
	"fmt"
	"sync"

	"pgharness/internal/backend"
	"pgharness/internal/cleanup"
	"pgharness/internal/fixerr"
	"pgharness/internal/ports"
	"pgharness/internal/proxy"
	"pgharness/pkg/logging"

	"github.com/google/uuid"
)

// ProxyName is the registry name of the proxy under test.
const ProxyName = "pgtwixt"

// Handle is a fixture that a generic "it is running" step can start.
type Handle interface {
	Name() string
	Start(ctx context.Context) error
}

// Config supplies the collaborators of a Context.
type Config struct {
	Proxy proxy.Options
	// Backends creates backend instances.
	Backends backend.Initializer
	// Ports defaults to the process-wide allocator.
	Ports *ports.Allocator
}

// Context is the fixture state of one scenario.
type Context struct {
	id   string
	name string
	cfg  Config

	registry *Registry
	cleanups *cleanup.Stack

	mu      sync.Mutex
	subject Handle
}

// New returns an empty Context for the named scenario.
func New(name string, cfg Config) *Context {
	if cfg.Ports == nil {
		cfg.Ports = ports.Default()
	}
	c := &Context{
		id:       uuid.NewString(),
		name:     name,
		cfg:      cfg,
		registry: NewRegistry(),
		cleanups: cleanup.New(),
	}
	logging.Debug("Scenario", "Created context %s for %q", c.id, name)
	return c
}

// ID uniquely identifies the scenario run.
func (c *Context) ID() string { return c.id }

// Name returns the scenario name.
func (c *Context) Name() string { return c.name }

// Registry exposes the handle registry.
func (c *Context) Registry() *Registry { return c.registry }

// Pending returns the number of registered release actions.
func (c *Context) Pending() int { return c.cleanups.Len() }

// Proxy returns the proxy handle, reserving its two ports on first use.
func (c *Context) Proxy() (*proxy.Proxy, error) {
	return GetOrCreate(c.registry, ProxyName, func() (*proxy.Proxy, error) {
		owner := c.id + "/" + ProxyName
		frontend, err := c.reservePort(owner, "frontend")
		if err != nil {
			return nil, err
		}
		metrics, err := c.reservePort(owner, "metrics")
		if err != nil {
			return nil, err
		}
		logging.Debug("Scenario", "Created %s handle (frontend port %d, metrics port %d)", ProxyName, frontend, metrics)
		return proxy.New(ProxyName, frontend, metrics, c.cleanups, c.cfg.Proxy), nil
	})
}

func (c *Context) reservePort(owner, purpose string) (int, error) {
	port, err := c.cfg.Ports.Reserve(owner)
	if err != nil {
		return 0, fmt.Errorf("reserve %s port: %w", purpose, err)
	}
	release := func() error {
		c.cfg.Ports.Release(port, owner)
		return nil
	}
	if err := c.cleanups.Push(fmt.Sprintf("release %s port %d", purpose, port), release); err != nil {
		c.cfg.Ports.Release(port, owner)
		return 0, err
	}
	return port, nil
}

// Backend returns the named backend, initializing it on first use.
func (c *Context) Backend(ctx context.Context, name string) (*backend.Handle, error) {
	return GetOrCreate(c.registry, name, func() (*backend.Handle, error) {
		if c.cfg.Backends == nil {
			return nil, fixerr.Usage("no backend fixture library configured")
		}
		h := backend.New(name, c.cfg.Backends, c.cleanups)
		if err := h.Init(ctx); err != nil {
			return nil, err
		}
		return h, nil
	})
}

// LookupBackend returns an existing backend without creating it.
func (c *Context) LookupBackend(name string) (*backend.Handle, error) {
	return Lookup[*backend.Handle](c.registry, name)
}

// SetSubject records the fixture the last step referred to.
func (c *Context) SetSubject(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subject = h
}

// Subject returns the fixture the last step referred to.
func (c *Context) Subject() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject, c.subject != nil
}

// StartSubject starts the current subject.
func (c *Context) StartSubject(ctx context.Context) error {
	h, ok := c.Subject()
	if !ok {
		return fixerr.Usage("no fixture to start: no previous step named one")
	}
	logging.Debug("Scenario", "Starting subject %s", h.Name())
	return h.Start(ctx)
}

// Defer registers an arbitrary release action.
func (c *Context) Defer(name string, action cleanup.Action) error {
	return c.cleanups.Push(name, action)
}

// Diagnostics returns the captured output of the proxy, empty if it was
// never created or started.
func (c *Context) Diagnostics() string {
	p, err := Lookup[*proxy.Proxy](c.registry, ProxyName)
	if err != nil {
		return ""
	}
	return p.Output()
}

// Close releases every resource. When failed is set the proxy output is
// logged first, while the process still exists. The returned error joins
// teardown failures and is informational.
func (c *Context) Close(failed bool) error {
	if failed {
		logging.Block(logging.LevelWarn, "Scenario", ProxyName+" output", c.Diagnostics())
	}
	err := c.cleanups.Close()
	if err != nil {
		logging.Warn("Scenario", "Teardown of %q finished with errors: %v", c.name, err)
	} else {
		logging.Debug("Scenario", "Teardown of %q complete", c.name)
	}
	return err
}
