package mock

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Labels names the families and side label the mock exposes.
type Labels struct {
	Connects    string
	Disconnects string
	Connections string
	Side        string
	Frontend    string
	Backend     string
}

// DefaultLabels matches the canonical proxy exposition.
func DefaultLabels() Labels {
	return Labels{
		Connects:    "pgtwixt_connects_total",
		Disconnects: "pgtwixt_disconnects_total",
		Connections: "pgtwixt_connections",
		Side:        "side",
		Frontend:    "frontend",
		Backend:     "backend",
	}
}

func (l Labels) withDefaults() Labels {
	d := DefaultLabels()
	if l.Connects == "" {
		l.Connects = d.Connects
	}
	if l.Disconnects == "" {
		l.Disconnects = d.Disconnects
	}
	if l.Connections == "" {
		l.Connections = d.Connections
	}
	if l.Side == "" {
		l.Side = d.Side
	}
	if l.Frontend == "" {
		l.Frontend = d.Frontend
	}
	if l.Backend == "" {
		l.Backend = d.Backend
	}
	return l
}

type collectors struct {
	labels      Labels
	connects    *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	connections *prometheus.GaugeVec
}

func newCollectors(reg prometheus.Registerer, labels Labels) *collectors {
	c := &collectors{
		labels: labels,
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: labels.Connects,
			Help: "Connections opened, by side.",
		}, []string{labels.Side}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: labels.Disconnects,
			Help: "Connections closed, by side.",
		}, []string{labels.Side}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: labels.Connections,
			Help: "Connections currently open, by side.",
		}, []string{labels.Side}),
	}
	reg.MustRegister(c.connects, c.disconnects, c.connections)

	// Expose zero-valued series for both sides from the first scrape.
	for _, side := range []string{labels.Frontend, labels.Backend} {
		c.connects.WithLabelValues(side)
		c.disconnects.WithLabelValues(side)
		c.connections.WithLabelValues(side)
	}
	return c
}

func (c *collectors) opened(side string) {
	c.connects.WithLabelValues(side).Inc()
	c.connections.WithLabelValues(side).Inc()
}

func (c *collectors) closed(side string) {
	c.disconnects.WithLabelValues(side).Inc()
	c.connections.WithLabelValues(side).Dec()
}
