// Package steps binds plain-text scenario steps to the fixture packages.
//
// A Suite holds run-wide settings; godog calls InitializeScenario once per
// scenario, and every scenario gets its own state and scenario.Context, so
// scenarios can run concurrently.
package steps

import (
	"time"

	"pgharness/internal/metrics"
	"pgharness/internal/pgclient"
	"pgharness/internal/report"
	"pgharness/internal/scenario"

	"github.com/cucumber/godog"
)

// Location formats for handing a backend to the proxy.
const (
	LocationDSN     = "dsn"
	LocationAddress = "address"
)

// Families names the proxy's metric families.
type Families struct {
	Connects    string
	Disconnects string
	Connections string
}

// DefaultFamilies are the canonical family names.
func DefaultFamilies() Families {
	return Families{
		Connects:    "pgtwixt_connects_total",
		Disconnects: "pgtwixt_disconnects_total",
		Connections: "pgtwixt_connections",
	}
}

// Suite is the run-wide step configuration.
type Suite struct {
	// Scenario configures each scenario.Context.
	Scenario scenario.Config

	// LocationFormat is the default form of backend locations.
	LocationFormat string
	// SSLMode is used in dsn locations.
	SSLMode string

	// Client is the template for client connections; host and port are
	// filled in from the proxy.
	Client pgclient.Options
	Dial   pgclient.Dialer

	Metrics  *metrics.Client
	Families Families
	Sides    metrics.Sides
	// Retry is how long count assertions keep scraping for the expected
	// value.
	Retry time.Duration

	// Reporter receives one outcome per scenario, if set.
	Reporter *report.Reporter
}

func (s *Suite) withDefaults() *Suite {
	out := *s
	if out.LocationFormat == "" {
		out.LocationFormat = LocationDSN
	}
	if out.SSLMode == "" {
		out.SSLMode = "prefer"
	}
	if out.Dial == nil {
		out.Dial = pgclient.Dial
	}
	if out.Metrics == nil {
		out.Metrics = metrics.NewClient(metrics.Options{})
	}
	if out.Families == (Families{}) {
		out.Families = DefaultFamilies()
	}
	if out.Sides.Frontend == nil || out.Sides.Backend == nil {
		out.Sides = metrics.SidesByLabel("side", "frontend", "backend")
	}
	if out.Retry < 0 {
		out.Retry = 0
	}
	return &out
}

// InitializeScenario registers hooks and steps for one scenario.
func (s *Suite) InitializeScenario(sc *godog.ScenarioContext) {
	st := &state{suite: s.withDefaults()}

	sc.Before(st.before)
	sc.After(st.after)

	sc.Step(`^postgres "([^"]*)" is configured to trust connections$`, st.postgresTrusts)
	sc.Step(`^postgres "([^"]*)" is running$`, st.postgresIsRunning)
	sc.Step(`^it is running$`, st.itIsRunning)
	sc.Step(`^pgtwixt is configured to connect to "([^"]*)"$`, st.pgtwixtConnectsTo)
	sc.Step(`^pgtwixt is configured to connect to "([^"]*)" using (dsn|address)$`, st.pgtwixtConnectsToUsing)
	sc.Step(`^pgtwixt is running$`, st.pgtwixtIsRunning)
	sc.Step(`^a client connects to pgtwixt$`, st.clientConnects)
	sc.Step(`^that client disconnects$`, st.clientDisconnects)
	sc.Step(`^pgtwixt reports a frontend and a backend connect$`, st.reportsConnect)
	sc.Step(`^pgtwixt reports a frontend and a backend disconnect$`, st.reportsDisconnect)
	sc.Step(`^pgtwixt reports (\d+) (frontend|backend) (connects|disconnects|connections)$`, st.reportsCount)
}
