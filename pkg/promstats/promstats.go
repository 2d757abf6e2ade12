// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package promstats exports server counters as Prometheus metrics.
package promstats

import (
	"github.com/z5labs/mgbridge"

	"github.com/prometheus/client_golang/prometheus"
)

// Source is anything with a stats snapshot, usually a [mgbridge.Server].
type Source interface {
	Stats() mgbridge.Stats
}

type config struct {
	namespace   string
	constLabels prometheus.Labels
}

// Option configures a [Collector].
type Option func(*config)

// WithNamespace sets the metric namespace. It defaults to "mgbridge".
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithConstLabels adds constant labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *config) {
		c.constLabels = labels
	}
}

// Collector implements [prometheus.Collector]. Every scrape takes a fresh
// snapshot from its source.
type Collector struct {
	src Source

	events     *prometheus.Desc
	handled    *prometheus.Desc
	unhandled  *prometheus.Desc
	faults     *prometheus.Desc
	mismatches *prometheus.Desc
	registered *prometheus.Desc
	inFlight   *prometheus.Desc
	rejected   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// New returns a collector reading from src.
func New(src Source, opts ...Option) *Collector {
	cfg := &config{namespace: "mgbridge"}
	for _, opt := range opts {
		opt(cfg)
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(cfg.namespace, "", name),
			help,
			nil,
			cfg.constLabels,
		)
	}
	return &Collector{
		src:        src,
		events:     desc("events_total", "Native events received by the dispatcher."),
		handled:    desc("events_handled_total", "Events a handler reported as handled."),
		unhandled:  desc("events_unhandled_total", "Events left to the native server."),
		faults:     desc("handler_faults_total", "Handlers which returned an error or panicked."),
		mismatches: desc("protocol_mismatches_total", "Event codes unknown to the negotiated protocol."),
		registered: desc("callbacks_registered", "Trampolines held for the native server."),
		inFlight:   desc("callbacks_in_flight", "Native calls currently running Go code."),
		rejected:   desc("callbacks_rejected_total", "Native calls refused after stop began."),
	}
}

// Describe implements the [prometheus.Collector] interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.handled
	ch <- c.unhandled
	ch <- c.faults
	ch <- c.mismatches
	ch <- c.registered
	ch <- c.inFlight
	ch <- c.rejected
}

// Collect implements the [prometheus.Collector] interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	d := st.Dispatch

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}

	counter(c.events, d.Events)
	counter(c.handled, d.Handled)
	counter(c.unhandled, d.Unhandled)
	counter(c.faults, d.Faults)
	counter(c.mismatches, d.Mismatches)
	gauge(c.registered, st.Registered)
	gauge(c.inFlight, st.InFlight)
	counter(c.rejected, st.Rejected)
}
