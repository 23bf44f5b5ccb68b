// Package ports hands out TCP ports to fixtures.
//
// A single Allocator is shared by every scenario in the process. A port stays
// reserved until its owner releases it, so two live fixtures never receive the
// same port even while one of them has not bound it yet.
package ports

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"
)

const (
	// DefaultHost is the interface ports are probed on.
	DefaultHost = "127.0.0.1"

	// DefaultRange is how many candidates are tried in base-port mode.
	DefaultRange = 100

	ephemeralAttempts = 32
)

// Options configures an Allocator.
type Options struct {
	// Host is the interface probed for availability.
	Host string
	// BasePort selects range-scan mode starting at this port. Zero asks the
	// kernel for ephemeral ports instead.
	BasePort int
	// Range bounds the range scan.
	Range int
}

// Allocator reserves ports for named owners.
type Allocator struct {
	mu       sync.Mutex
	host     string
	basePort int
	span     int
	offset   int
	reserved map[int]string
	// probe reports whether a port can currently be bound.
	probe func(host string, port int) (int, error)
}

// New returns an Allocator for opts.
func New(opts Options) *Allocator {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Range <= 0 {
		opts.Range = DefaultRange
	}
	return &Allocator{
		host:     opts.Host,
		basePort: opts.BasePort,
		span:     opts.Range,
		reserved: make(map[int]string),
		probe:    probeListen,
	}
}

var (
	defaultMu        sync.Mutex
	defaultAllocator = New(Options{})
)

// Default returns the process-wide allocator.
func Default() *Allocator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultAllocator
}

// SetDefault replaces the process-wide allocator. It is meant to be called
// once at startup, before any scenario runs.
func SetDefault(a *Allocator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultAllocator = a
}

// Host returns the interface the allocator probes on.
func (a *Allocator) Host() string {
	return a.host
}

// Reserve returns a port that is free on the host and not held by any other
// live reservation, and records owner as its holder.
func (a *Allocator) Reserve(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.basePort > 0 {
		return a.reserveFromRange(owner)
	}
	return a.reserveEphemeral(owner)
}

func (a *Allocator) reserveFromRange(owner string) (int, error) {
	for i := 0; i < a.span; i++ {
		port := a.basePort + (a.offset+i)%a.span

		if holder, taken := a.reserved[port]; taken {
			logging.Debug("Ports", "Port %d already reserved by %s, skipping", port, holder)
			continue
		}
		if _, err := a.probe(a.host, port); err != nil {
			logging.Debug("Ports", "Port %d not available: %v", port, err)
			continue
		}

		a.reserved[port] = owner
		a.offset = (a.offset + i + 1) % a.span
		logging.Debug("Ports", "Reserved port %d for %s", port, owner)
		return port, nil
	}
	return 0, fixerr.Network("no available ports in %d-%d", a.basePort, a.basePort+a.span-1)
}

func (a *Allocator) reserveEphemeral(owner string) (int, error) {
	var lastErr error
	for i := 0; i < ephemeralAttempts; i++ {
		port, err := a.probe(a.host, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if holder, taken := a.reserved[port]; taken {
			logging.Debug("Ports", "Kernel returned port %d still reserved by %s, retrying", port, holder)
			continue
		}
		a.reserved[port] = owner
		logging.Debug("Ports", "Reserved port %d for %s", port, owner)
		return port, nil
	}
	if lastErr != nil {
		return 0, fixerr.Network("no ephemeral port on %s: %v", a.host, lastErr)
	}
	return 0, fixerr.Network("no ephemeral port on %s after %d attempts", a.host, ephemeralAttempts)
}

// Release frees port if it is held by owner. It reports whether a reservation
// was removed.
func (a *Allocator) Release(port int, owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	holder, taken := a.reserved[port]
	switch {
	case !taken:
		logging.Debug("Ports", "Port %d was not reserved, nothing to release", port)
		return false
	case holder != owner:
		logging.Warn("Ports", "Port %d is reserved by %s, not releasing for %s", port, holder, owner)
		return false
	}
	delete(a.reserved, port)
	logging.Debug("Ports", "Released port %d from %s", port, owner)
	return true
}

// Owner returns the holder of port, if any.
func (a *Allocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.reserved[port]
	return owner, ok
}

// Reserved returns the number of live reservations.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}

// Address joins host and port.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func probeListen(host string, port int) (int, error) {
	ln, err := net.Listen("tcp", Address(host, port))
	if err != nil {
		return 0, err
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", ln.Addr())
	}
	return addr.Port, nil
}
