package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pgharness/internal/metrics"
)

const retryInterval = 50 * time.Millisecond

type expectation struct {
	family string
	side   string
	want   float64
}

// expectAll scrapes the proxy until every expectation holds or the retry
// window closes. Counters are updated asynchronously by the proxy, so a
// single scrape right after a disconnect can lag behind.
func (st *state) expectAll(ctx context.Context, exps []expectation) error {
	p, err := st.configuredProxy()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(st.suite.Retry)
	for {
		families, err := st.suite.Metrics.Scrape(ctx, p.MetricsAddress())
		if err != nil {
			return err
		}

		mismatch := st.check(families, exps)
		if mismatch == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return mismatch
		}

		select {
		case <-ctx.Done():
			return mismatch
		case <-time.After(retryInterval):
		}
	}
}

func (st *state) check(families []metrics.Family, exps []expectation) error {
	var problems []error
	for _, e := range exps {
		pred, err := st.suite.Sides.Side(e.side)
		if err != nil {
			return err
		}
		got, err := metrics.Value(families, e.family, pred)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if got != e.want {
			problems = append(problems, fmt.Errorf("%s{%s} = %g, want %g", e.family, pred, got, e.want))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("unexpected proxy metrics: %w", errors.Join(problems...))
}
