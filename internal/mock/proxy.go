package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"pgharness/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// DefaultDialTimeout bounds backend dials.
const DefaultDialTimeout = 5 * time.Second

// Config describes one mock proxy.
type Config struct {
	Frontend string
	Metrics  string
	// Backend is a location accepted by BackendAddress.
	Backend     string
	MetricsPath string
	Labels      Labels
	DialTimeout time.Duration
}

// Proxy pipes frontend connections to the backend and counts them.
type Proxy struct {
	cfg     Config
	backend string
	metrics *collectors
	reg     *prometheus.Registry

	frontendLn net.Listener
	metricsLn  net.Listener
	httpServer *http.Server

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// New validates cfg and binds both listeners. The frontend is bound first,
// so a served metrics endpoint implies an accepting frontend.
func New(cfg Config) (*Proxy, error) {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	cfg.Labels = cfg.Labels.withDefaults()

	backend, err := BackendAddress(cfg.Backend)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	p := &Proxy{
		cfg:     cfg,
		backend: backend,
		metrics: newCollectors(reg, cfg.Labels),
		reg:     reg,
		conns:   make(map[net.Conn]struct{}),
	}

	p.frontendLn, err = net.Listen("tcp", cfg.Frontend)
	if err != nil {
		return nil, fmt.Errorf("listen frontend %s: %w", cfg.Frontend, err)
	}
	p.metricsLn, err = net.Listen("tcp", cfg.Metrics)
	if err != nil {
		p.frontendLn.Close()
		return nil, fmt.Errorf("listen metrics %s: %w", cfg.Metrics, err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	p.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return p, nil
}

// FrontendAddress returns the bound frontend address.
func (p *Proxy) FrontendAddress() string { return p.frontendLn.Addr().String() }

// MetricsAddress returns the bound metrics address.
func (p *Proxy) MetricsAddress() string { return p.metricsLn.Addr().String() }

// Registry exposes the collectors, mainly for tests.
func (p *Proxy) Registry() *prometheus.Registry { return p.reg }

// Serve runs until ctx is cancelled, then closes listeners and every open
// connection.
func (p *Proxy) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	logging.Info("MockProxy", "Listening on %s, metrics on %s, backend %s",
		p.FrontendAddress(), p.MetricsAddress(), p.backend)

	g.Go(func() error {
		err := p.httpServer.Serve(p.metricsLn)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return p.acceptLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.frontendLn.Close()
		p.closeConns()
		return p.httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	p.wg.Wait()
	logging.Info("MockProxy", "Stopped")
	return err
}

func (p *Proxy) acceptLoop(ctx context.Context) error {
	for {
		conn, err := p.frontendLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(ctx, conn)
		}()
	}
}

func (p *Proxy) handle(ctx context.Context, client net.Conn) {
	labels := p.cfg.Labels
	p.track(client)
	p.metrics.opened(labels.Frontend)
	logging.Debug("MockProxy", "Frontend connect from %s", client.RemoteAddr())
	defer func() {
		p.untrack(client)
		client.Close()
		p.metrics.closed(labels.Frontend)
		logging.Debug("MockProxy", "Frontend disconnect from %s", client.RemoteAddr())
	}()

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	server, err := dialer.DialContext(ctx, "tcp", p.backend)
	if err != nil {
		logging.Error("MockProxy", err, "Backend dial %s failed", p.backend)
		return
	}
	p.track(server)
	p.metrics.opened(labels.Backend)
	defer func() {
		p.untrack(server)
		server.Close()
		p.metrics.closed(labels.Backend)
	}()

	pipe(client, server)
}

// pipe copies in both directions until either side finishes, then closes
// both so the other copy unblocks.
func pipe(a, b net.Conn) {
	var g errgroup.Group
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(b, a)
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(a, b)
		return err
	})
	_ = g.Wait()
}

func (p *Proxy) track(c net.Conn) {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	p.conns[c] = struct{}{}
}

func (p *Proxy) untrack(c net.Conn) {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	delete(p.conns, c)
}

func (p *Proxy) closeConns() {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	for c := range p.conns {
		c.Close()
	}
}

// Run binds and serves cfg until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	p, err := New(cfg)
	if err != nil {
		return err
	}
	return p.Serve(ctx)
}
