// Package metrics scrapes a Prometheus text exposition and looks up samples.
//
// Scrapes are single-shot: a missing endpoint is reported immediately and
// callers that need to wait for readiness retry themselves.
package metrics

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"pgharness/internal/fixerr"
	"pgharness/pkg/logging"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const (
	// DefaultPath is where the exposition is served.
	DefaultPath = "/metrics"

	// DefaultTimeout bounds a single scrape.
	DefaultTimeout = 5 * time.Second
)

// Sample is one labeled value of a family. Name carries the suffix of
// expanded summary and histogram series, such as _bucket or _count.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Label returns the value of label k, empty if absent.
func (s Sample) Label(k string) string { return s.Labels[k] }

func (s Sample) String() string {
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, s.Labels[k]))
	}
	return fmt.Sprintf("%s{%s} %s", s.Name, strings.Join(pairs, ","), formatValue(s.Value))
}

// Family is a metric family with its samples in exposition order.
type Family struct {
	Name    string
	Help    string
	Type    string
	Samples []Sample
}

// Sample returns the first sample of f matching pred.
func (f Family) Sample(pred Predicate) (Sample, error) {
	s, err := FindSample(f.Samples, pred)
	if err != nil {
		if nf, ok := err.(*NotFoundError); ok {
			nf.Family = f.Name
		}
		return Sample{}, err
	}
	return s, nil
}

// Options configures a Client.
type Options struct {
	Path    string
	Timeout time.Duration
}

// Client scrapes exposition endpoints over HTTP.
type Client struct {
	httpClient *http.Client
	path       string
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		path:       opts.Path,
	}
}

// URL returns the endpoint scraped for address.
func (c *Client) URL(address string) string {
	return "http://" + address + c.path
}

// Scrape fetches and parses the exposition served at address (host:port).
func (c *Client) Scrape(ctx context.Context, address string) ([]Family, error) {
	url := c.URL(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fixerr.Usage("invalid metrics address %q: %v", address, err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fixerr.Network("scrape %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fixerr.Network("scrape %s: unexpected status %s", url, resp.Status)
	}

	families, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	logging.Debug("Metrics", "Scraped %d families from %s", len(families), url)
	return families, nil
}

// Parse decodes a text exposition into families sorted by name.
func Parse(r io.Reader) ([]Family, error) {
	var parser expfmt.TextParser // zero value validates with model.NameValidationScheme (UTF8Validation)
	parsed, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse exposition: %w", err)
	}

	families := make([]Family, 0, len(parsed))
	for _, mf := range parsed {
		families = append(families, convertFamily(mf))
	}
	sort.Slice(families, func(i, j int) bool { return families[i].Name < families[j].Name })
	return families, nil
}

func convertFamily(mf *dto.MetricFamily) Family {
	name := mf.GetName()
	f := Family{
		Name: name,
		Help: mf.GetHelp(),
		Type: strings.ToLower(mf.GetType().String()),
	}

	for _, m := range mf.GetMetric() {
		labels := make(map[string]string, len(m.GetLabel()))
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			f.Samples = append(f.Samples, Sample{Name: name, Labels: labels, Value: m.GetCounter().GetValue()})
		case dto.MetricType_GAUGE:
			f.Samples = append(f.Samples, Sample{Name: name, Labels: labels, Value: m.GetGauge().GetValue()})
		case dto.MetricType_SUMMARY:
			s := m.GetSummary()
			for _, q := range s.GetQuantile() {
				f.Samples = append(f.Samples, Sample{
					Name:   name,
					Labels: withLabel(labels, model.QuantileLabel, formatValue(q.GetQuantile())),
					Value:  q.GetValue(),
				})
			}
			f.Samples = append(f.Samples,
				Sample{Name: name + "_sum", Labels: labels, Value: s.GetSampleSum()},
				Sample{Name: name + "_count", Labels: labels, Value: float64(s.GetSampleCount())},
			)
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			sawInf := false
			for _, b := range h.GetBucket() {
				if math.IsInf(b.GetUpperBound(), +1) {
					sawInf = true
				}
				f.Samples = append(f.Samples, Sample{
					Name:   name + "_bucket",
					Labels: withLabel(labels, model.BucketLabel, formatValue(b.GetUpperBound())),
					Value:  float64(b.GetCumulativeCount()),
				})
			}
			if !sawInf {
				f.Samples = append(f.Samples, Sample{
					Name:   name + "_bucket",
					Labels: withLabel(labels, model.BucketLabel, "+Inf"),
					Value:  float64(h.GetSampleCount()),
				})
			}
			f.Samples = append(f.Samples,
				Sample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()},
				Sample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
			)
		default:
			f.Samples = append(f.Samples, Sample{Name: name, Labels: labels, Value: m.GetUntyped().GetValue()})
		}
	}
	return f
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FindFamily returns the family named exactly name.
func FindFamily(families []Family, name string) (Family, error) {
	for _, f := range families {
		if f.Name == name {
			return f, nil
		}
	}
	available := make([]string, 0, len(families))
	for _, f := range families {
		available = append(available, f.Name)
	}
	return Family{}, &NotFoundError{Family: name, Available: available}
}

// FindSample returns the first sample matching pred.
func FindSample(samples []Sample, pred Predicate) (Sample, error) {
	for _, s := range samples {
		if pred.Match(s) {
			return s, nil
		}
	}
	available := make([]string, 0, len(samples))
	for _, s := range samples {
		available = append(available, s.String())
	}
	return Sample{}, &NotFoundError{Predicate: pred.String(), Available: available}
}

// Value returns the value of the first sample of family matching every
// predicate.
func Value(families []Family, family string, preds ...Predicate) (float64, error) {
	f, err := FindFamily(families, family)
	if err != nil {
		return 0, err
	}
	s, err := f.Sample(All(preds...))
	if err != nil {
		return 0, err
	}
	return s.Value, nil
}
