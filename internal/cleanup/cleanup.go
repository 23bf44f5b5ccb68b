// Package cleanup provides the per-scenario teardown stack.
package cleanup

import (
	"errors"
	"fmt"
	"sync"

	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"
)

// Action releases one resource.
type Action func() error

// Registrar accepts release actions. Handles register their teardown through
// it as soon as they acquire a resource.
type Registrar interface {
	Push(name string, action Action) error
}

type entry struct {
	name   string
	action Action
}

// Stack runs registered actions in reverse registration order when closed.
// Every action runs exactly once, even when earlier ones fail or panic.
type Stack struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

// New returns an open, empty Stack.
func New() *Stack {
	return &Stack{}
}

// Push registers action under name. It fails only once the stack is closed.
func (s *Stack) Push(name string, action Action) error {
	if action == nil {
		return fixerr.Usage("cleanup action %q is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fixerr.Usage("cleanup stack closed, cannot register %q", name)
	}
	s.entries = append(s.entries, entry{name: name, action: action})
	return nil
}

// Len returns the number of actions still pending.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close runs every pending action, newest first, and returns their failures
// joined. Subsequent calls are no-ops and return nil.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := run(e); err != nil {
			logging.Error("Cleanup", err, "Release action %q failed", e.name)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		logging.Debug("Cleanup", "Released %s", e.name)
	}
	return errors.Join(errs...)
}

func run(e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.action()
}
