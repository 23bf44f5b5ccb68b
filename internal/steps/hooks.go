package steps

import (
	"context"
	"errors"
	"time"

	"pgharness/internal/report"
	"pgharness/internal/scenario"
	"pgharness/pkg/logging"

	"github.com/cucumber/godog"
)

func (st *state) before(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	st.fixtures = scenario.New(sc.Name, st.suite.Scenario)
	st.started = time.Now()
	st.client = nil
	logging.Info("Steps", "Scenario %q started (%s)", sc.Name, st.fixtures.ID())
	return ctx, nil
}

// after tears the scenario down whatever its outcome. Proxy output is
// captured before teardown, while the process still exists.
func (st *state) after(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	if st.fixtures == nil {
		return ctx, nil
	}

	failed := err != nil && !errors.Is(err, godog.ErrPending)
	outcome := report.Outcome{
		Scenario: sc.Name,
		Status:   report.StatusPassed,
		Duration: time.Since(st.started),
	}
	switch {
	case failed:
		outcome.Status = report.StatusFailed
		outcome.Error = err.Error()
		outcome.Output = st.fixtures.Diagnostics()
	case err != nil:
		outcome.Status = report.StatusSkipped
	}

	if teardownErr := st.fixtures.Close(failed); teardownErr != nil {
		outcome.TeardownError = teardownErr.Error()
	}
	st.fixtures = nil
	st.client = nil

	if st.suite.Reporter != nil {
		st.suite.Reporter.Record(outcome)
	}
	logging.Info("Steps", "Scenario %q %s in %s", sc.Name, outcome.Status, outcome.Duration.Round(time.Millisecond))
	return ctx, nil
}
