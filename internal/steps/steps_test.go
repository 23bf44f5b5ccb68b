package steps

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"pgharness/internal/backend"
	"pgharness/internal/fixerr"
	"pgharness/internal/mock"
	"pgharness/internal/pgclient"
	"pgharness/internal/ports"
	"pgharness/internal/proxy"
	"pgharness/internal/report"
	"pgharness/internal/scenario"
	"pgharness/pkg/logging"

	"github.com/cucumber/godog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "HARNESS_WANT_HELPER_PROXY"

// TestHelperProxyProcess is not a real test. It stands in for the proxy
// executable when re-launched by the suites below.
func TestHelperProxyProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) != 4 {
		os.Stderr.WriteString("usage: proxy <frontend> <metrics> <backend>\n")
		os.Exit(2)
	}

	logging.InitForCLI(logging.LevelInfo, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	if err := mock.Run(ctx, mock.Config{Frontend: args[1], Metrics: args[2], Backend: args[3]}); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	os.Exit(0)
}

// journal records backend lifecycle calls across a run.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// echoInstance is a backend that echoes whatever it receives.
type echoInstance struct {
	name    string
	journal *journal
	ln      net.Listener
	port    int
}

func (e *echoInstance) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	e.ln = ln
	e.port = ln.Addr().(*net.TCPAddr).Port
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	e.journal.add("start " + e.name)
	return nil
}

func (e *echoInstance) Stop(ctx context.Context) error {
	e.journal.add("stop " + e.name)
	if e.ln != nil {
		return e.ln.Close()
	}
	return nil
}

func (e *echoInstance) ConfigureTrust(ctx context.Context) error {
	e.journal.add("trust " + e.name)
	return nil
}

func (e *echoInstance) Location() backend.Location {
	return backend.Location{Host: "127.0.0.1", Port: e.port}
}

func (e *echoInstance) Cleanup() error {
	e.journal.add("cleanup " + e.name)
	if e.ln != nil {
		e.ln.Close()
	}
	return nil
}

func testSuite(j *journal, alloc *ports.Allocator, reporter *report.Reporter) *Suite {
	return &Suite{
		Scenario: scenario.Config{
			Ports: alloc,
			Proxy: proxy.Options{
				Path:          os.Args[0],
				Args:          []string{"-test.run=TestHelperProxyProcess$", "--"},
				Env:           []string{helperEnv + "=1"},
				ReadyTimeout:  15 * time.Second,
				ReadyInterval: 50 * time.Millisecond,
				ShutdownGrace: 5 * time.Second,
			},
			Backends: func(ctx context.Context, name string) (backend.Instance, error) {
				j.add("init " + name)
				return &echoInstance{name: name, journal: j}, nil
			},
		},
		Dial:     pgclient.DialTCP,
		Retry:    5 * time.Second,
		Reporter: reporter,
	}
}

func TestFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("launches proxy processes")
	}

	j := &journal{}
	alloc := ports.New(ports.Options{})
	reporter := report.New()
	s := testSuite(j, alloc, reporter)

	suite := godog.TestSuite{
		Name:                "pgharness",
		ScenarioInitializer: s.InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features"},
			Strict:   true,
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}

	assert.Len(t, reporter.Outcomes(), 5)
	assert.Equal(t, 0, reporter.Failed())
	assert.Equal(t, 0, alloc.Reserved(), "every port is released")
}

func runFeature(t *testing.T, s *Suite, contents string) int {
	t.Helper()
	suite := godog.TestSuite{
		ScenarioInitializer: s.InitializeScenario,
		Options: &godog.Options{
			Format: "progress",
			Output: io.Discard,
			Strict: true,
			FeatureContents: []godog.Feature{
				{Name: "inline.feature", Contents: []byte(contents)},
			},
		},
	}
	return suite.Run()
}

func TestBackendCleanedUpWhenScenarioFailsBeforeProxyStarts(t *testing.T) {
	j := &journal{}
	alloc := ports.New(ports.Options{})
	reporter := report.New()
	s := testSuite(j, alloc, reporter)

	status := runFeature(t, s, `
Feature: failure between backend start and proxy start
  Scenario: the proxy targets an unknown backend
    Given postgres "postgres" is running
    And pgtwixt is configured to connect to "replica"
    And pgtwixt is running
`)
	assert.Equal(t, 1, status)

	assert.Equal(t, []string{"init postgres", "start postgres", "stop postgres", "cleanup postgres"}, j.list())

	outcomes := reporter.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, report.StatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, `no fixture named "replica"`)
	assert.Empty(t, outcomes[0].Output, "the proxy was never created")
	assert.Equal(t, 0, alloc.Reserved())
}

func TestFailedAssertionCapturesProxyOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("launches proxy processes")
	}

	j := &journal{}
	alloc := ports.New(ports.Options{})
	reporter := report.New()
	s := testSuite(j, alloc, reporter)
	s.Retry = 200 * time.Millisecond

	status := runFeature(t, s, `
Feature: wrong expectation
  Scenario: counts do not match
    Given postgres "postgres" is running
    And pgtwixt is configured to connect to "postgres" using address
    And pgtwixt is running
    When a client connects to pgtwixt
    Then pgtwixt reports 5 frontend connects
`)
	assert.Equal(t, 1, status)

	outcomes := reporter.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, report.StatusFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "want 5")
	assert.Contains(t, outcomes[0].Output, "Listening on")
	assert.Equal(t, 0, alloc.Reserved())
	assert.Equal(t, "cleanup postgres", j.list()[len(j.list())-1])
}

func TestItIsRunningWithoutSubject(t *testing.T) {
	j := &journal{}
	reporter := report.New()
	s := testSuite(j, ports.New(ports.Options{}), reporter)

	status := runFeature(t, s, `
Feature: nothing to start
  Scenario: no subject
    Given it is running
`)
	assert.Equal(t, 1, status)
	require.Len(t, reporter.Outcomes(), 1)
	assert.Contains(t, reporter.Outcomes()[0].Error, "no fixture to start")
}

func TestDisconnectWithoutClient(t *testing.T) {
	j := &journal{}
	reporter := report.New()
	s := testSuite(j, ports.New(ports.Options{}), reporter)

	status := runFeature(t, s, `
Feature: nothing to close
  Scenario: no client
    When that client disconnects
`)
	assert.Equal(t, 1, status)
	require.Len(t, reporter.Outcomes(), 1)
	assert.Contains(t, reporter.Outcomes()[0].Error, "no client has connected")
}

func TestProxyStepsRequireConfiguredProxy(t *testing.T) {
	tests := []struct {
		name string
		step string
	}{
		{"metric assertion", "Then pgtwixt reports 1 frontend connects"},
		{"connect assertion", "Then pgtwixt reports a frontend and a backend connect"},
		{"client connect", "When a client connects to pgtwixt"},
		{"proxy start", "Given pgtwixt is running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := ports.New(ports.Options{})
			reporter := report.New()
			s := testSuite(&journal{}, alloc, reporter)

			status := runFeature(t, s, `
Feature: no proxy
  Scenario: proxy step without configuration
    `+tt.step+`
`)
			assert.Equal(t, 1, status)
			require.Len(t, reporter.Outcomes(), 1)
			assert.Contains(t, reporter.Outcomes()[0].Error, "pgtwixt was never configured")
			assert.Equal(t, 0, alloc.Reserved(), "no ports are reserved for an unconfigured proxy")
		})
	}
}

func TestBackendLocation(t *testing.T) {
	loc := backend.Location{Host: "127.0.0.2", Port: 5433}

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{LocationDSN, "host=127.0.0.2 port=5433 sslmode=require", false},
		{LocationAddress, "127.0.0.2:5433", false},
		{"url", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			got, err := backendLocation(loc, tt.format, "require")
			if tt.wantErr {
				assert.ErrorIs(t, err, fixerr.ErrUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
