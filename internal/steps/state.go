package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgharness/internal/backend"
	"pgharness/internal/fixerr"
	"pgharness/internal/pgclient"
	"pgharness/internal/proxy"
	"pgharness/internal/scenario"
	"pgharness/pkg/logging"
)

// state is the per-scenario step state.
type state struct {
	suite    *Suite
	fixtures *scenario.Context
	started  time.Time
	// client is the most recent client connection.
	client pgclient.Conn
}

// readyProxy starts the proxy and waits for it to serve, so that "it is
// running" means the same for the proxy as "pgtwixt is running".
type readyProxy struct {
	*proxy.Proxy
}

func (p readyProxy) Start(ctx context.Context) error {
	if err := p.Proxy.Start(ctx); err != nil {
		return err
	}
	return p.Proxy.WaitReady(ctx)
}

func (st *state) postgresTrusts(ctx context.Context, name string) error {
	pg, err := st.fixtures.Backend(ctx, name)
	if err != nil {
		return err
	}
	if err := pg.ConfigureTrust(ctx); err != nil {
		return err
	}
	st.fixtures.SetSubject(pg)
	return nil
}

func (st *state) postgresIsRunning(ctx context.Context, name string) error {
	pg, err := st.fixtures.Backend(ctx, name)
	if err != nil {
		return err
	}
	if err := pg.Start(ctx); err != nil {
		return err
	}
	st.fixtures.SetSubject(pg)
	return nil
}

func (st *state) itIsRunning(ctx context.Context) error {
	return st.fixtures.StartSubject(ctx)
}

func (st *state) pgtwixtConnectsTo(ctx context.Context, name string) error {
	return st.pgtwixtConnectsToUsing(ctx, name, st.suite.LocationFormat)
}

func (st *state) pgtwixtConnectsToUsing(ctx context.Context, name, format string) error {
	pg, err := st.fixtures.LookupBackend(name)
	if err != nil {
		return err
	}
	loc, err := pg.Location()
	if err != nil {
		return err
	}

	location, err := backendLocation(loc, format, st.suite.SSLMode)
	if err != nil {
		return err
	}

	p, err := st.fixtures.Proxy()
	if err != nil {
		return err
	}
	if err := p.Configure(location); err != nil {
		return err
	}
	st.fixtures.SetSubject(readyProxy{p})
	return nil
}

// backendLocation renders loc in the form handed to pgtwixt.
func backendLocation(loc backend.Location, format, sslmode string) (string, error) {
	switch format {
	case LocationDSN:
		return loc.ConnString(sslmode), nil
	case LocationAddress:
		return loc.Address(), nil
	default:
		return "", fixerr.Usage("unknown location format %q", format)
	}
}

// configuredProxy returns the proxy handle of an earlier step. Unlike
// fixtures.Proxy it never creates one.
func (st *state) configuredProxy() (*proxy.Proxy, error) {
	p, err := scenario.Lookup[*proxy.Proxy](st.fixtures.Registry(), scenario.ProxyName)
	if errors.Is(err, fixerr.ErrNotFound) {
		return nil, fixerr.Usage("pgtwixt was never configured")
	}
	return p, err
}

func (st *state) pgtwixtIsRunning(ctx context.Context) error {
	p, err := st.configuredProxy()
	if err != nil {
		return err
	}
	rp := readyProxy{p}
	if err := rp.Start(ctx); err != nil {
		return err
	}
	st.fixtures.SetSubject(rp)
	return nil
}

func (st *state) clientConnects(ctx context.Context) error {
	p, err := st.configuredProxy()
	if err != nil {
		return err
	}
	if p.State() != proxy.Running {
		return fixerr.Usage("pgtwixt is %s, not running", p.State())
	}

	opts := st.suite.Client
	opts.Host = p.Host()
	opts.Port = p.Port()

	conn, err := st.suite.Dial(ctx, opts)
	if err != nil {
		return err
	}
	if err := st.fixtures.Defer("close client", conn.Close); err != nil {
		conn.Close()
		return err
	}
	st.client = conn
	logging.Debug("Steps", "Client connected to %s", p.FrontendAddress())
	return nil
}

func (st *state) clientDisconnects(ctx context.Context) error {
	if st.client == nil {
		return fixerr.Usage("no client has connected")
	}
	if err := st.client.Close(); err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	return nil
}

func (st *state) reportsConnect(ctx context.Context) error {
	f := st.suite.Families
	return st.expectAll(ctx, []expectation{
		{f.Connects, "frontend", 1},
		{f.Connects, "backend", 1},
		{f.Connections, "frontend", 1},
		{f.Connections, "backend", 1},
	})
}

func (st *state) reportsDisconnect(ctx context.Context) error {
	f := st.suite.Families
	return st.expectAll(ctx, []expectation{
		{f.Disconnects, "frontend", 1},
		{f.Disconnects, "backend", 1},
		{f.Connections, "frontend", 0},
		{f.Connections, "backend", 0},
	})
}

func (st *state) reportsCount(ctx context.Context, want int, side, kind string) error {
	f := st.suite.Families
	family := map[string]string{
		"connects":    f.Connects,
		"disconnects": f.Disconnects,
		"connections": f.Connections,
	}[kind]
	return st.expectAll(ctx, []expectation{{family, side, float64(want)}})
}
