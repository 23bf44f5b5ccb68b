// Package report collects scenario outcomes and prints the run summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Status is the result of one scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome records one finished scenario.
type Outcome struct {
	Scenario string        `json:"scenario"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	// Output is the proxy output captured before teardown of a failed
	// scenario.
	Output string `json:"output,omitempty"`
	// TeardownError joins cleanup failures, if any.
	TeardownError string `json:"teardownError,omitempty"`
}

// Reporter is safe for concurrent use by parallel scenarios.
type Reporter struct {
	mu       sync.Mutex
	outcomes []Outcome
}

// New returns an empty Reporter.
func New() *Reporter {
	return &Reporter{}
}

// Record adds an outcome.
func (r *Reporter) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of everything recorded.
func (r *Reporter) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

// Failed returns the number of failed scenarios.
func (r *Reporter) Failed() int {
	n := 0
	for _, o := range r.Outcomes() {
		if o.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Render writes the summary table to w, followed by the captured output of
// each failed scenario.
func (r *Reporter) Render(w io.Writer) {
	outcomes := r.Outcomes()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Scenario", "Result", "Duration", "Error"})

	counts := map[Status]int{}
	var total time.Duration
	for _, o := range outcomes {
		counts[o.Status]++
		total += o.Duration
		t.AppendRow(table.Row{o.Scenario, statusText(o.Status), o.Duration.Round(time.Millisecond), firstLine(o.Error)})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d scenarios", len(outcomes)),
		fmt.Sprintf("%d passed, %d failed, %d skipped", counts[StatusPassed], counts[StatusFailed], counts[StatusSkipped]),
		total.Round(time.Millisecond),
		"",
	})
	t.Render()

	for _, o := range outcomes {
		if o.Status != StatusFailed {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", o.Scenario)
		if o.Error != "" {
			fmt.Fprintf(w, "error: %s\n", o.Error)
		}
		if o.TeardownError != "" {
			fmt.Fprintf(w, "teardown: %s\n", o.TeardownError)
		}
		if o.Output != "" {
			fmt.Fprintf(w, "pgtwixt output:\n%s\n", strings.TrimRight(o.Output, "\n"))
		} else {
			fmt.Fprintln(w, "pgtwixt output: (none captured)")
		}
	}
}

// Save writes the outcomes as JSON into dir and returns the file path.
func (r *Reporter) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	filename := fmt.Sprintf("pgharness-report-%s.json", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(r.Outcomes(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

func statusText(s Status) string {
	switch s {
	case StatusPassed:
		return text.FgGreen.Sprint("✅ passed")
	case StatusFailed:
		return text.FgRed.Sprint("❌ failed")
	case StatusSkipped:
		return text.FgYellow.Sprint("⏭️  skipped")
	default:
		return string(s)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
