// Package fixerr defines the error kinds shared by the fixture packages.
//
// Errors are produced by wrapping one of the sentinels with fmt.Errorf and
// %w, so callers classify them with errors.Is:
//
//	if errors.Is(err, fixerr.ErrUsage) { ... }
package fixerr

import (
	"errors"
	"fmt"
)

var (
	// ErrUsage marks an operation invoked in the wrong state, such as
	// starting a proxy twice or pushing onto a closed cleanup stack.
	ErrUsage = errors.New("usage error")

	// ErrNotFound marks a missing metric family, sample, or registry entry.
	ErrNotFound = errors.New("not found")

	// ErrNetwork marks a failed dial or scrape.
	ErrNetwork = errors.New("network error")

	// ErrProcess marks a child process that could not be started or exited
	// unexpectedly.
	ErrProcess = errors.New("process error")
)

// Usage returns an ErrUsage error with a formatted message.
func Usage(format string, args ...interface{}) error {
	return wrap(ErrUsage, format, args...)
}

// NotFound returns an ErrNotFound error with a formatted message.
func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

// Network returns an ErrNetwork error with a formatted message.
func Network(format string, args ...interface{}) error {
	return wrap(ErrNetwork, format, args...)
}

// Process returns an ErrProcess error with a formatted message.
func Process(format string, args ...interface{}) error {
	return wrap(ErrProcess, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel err is classified under, or nil if none applies.
func Kind(err error) error {
	for _, kind := range []error{ErrUsage, ErrNotFound, ErrNetwork, ErrProcess} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
