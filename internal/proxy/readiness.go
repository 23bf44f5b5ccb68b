package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"
)

// WaitReady blocks until the metrics endpoint answers a scrape and, with
// ProbeFrontend set, the frontend accepts a TCP connection. It gives up after
// the configured ready timeout, or as soon as the process exits.
//
// The frontend probe is off by default: the proxy counts the probe as a
// client connect, which skews connection counters.
func (p *Proxy) WaitReady(ctx context.Context) error {
	if p.State() != Running {
		return fixerr.Usage("%s is %s, not running", p.name, p.State())
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(p.opts.ReadyInterval)
	defer ticker.Stop()

	logging.Debug("Proxy", "⏳ Waiting for %s to serve metrics on %s", p.name, p.MetricsAddress())

	var lastErr error
	for {
		if exited, exitErr := p.Exited(); exited {
			return fixerr.Process("%s exited before becoming ready (%s)\n%s", p.name, exitDescription(exitErr), p.Output())
		}

		lastErr = p.probe(ctx)
		if lastErr == nil {
			logging.Debug("Proxy", "✅ %s is ready", p.name)
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s not ready after %s: %w", p.name, p.opts.ReadyTimeout, lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Proxy) probe(ctx context.Context) error {
	if _, err := p.opts.Metrics.Scrape(ctx, p.MetricsAddress()); err != nil {
		return err
	}
	if !p.opts.ProbeFrontend {
		return nil
	}

	dialer := net.Dialer{Timeout: p.opts.ReadyInterval * 5}
	conn, err := dialer.DialContext(ctx, "tcp", p.FrontendAddress())
	if err != nil {
		return fixerr.Network("dial frontend %s: %v", p.FrontendAddress(), err)
	}
	return conn.Close()
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
