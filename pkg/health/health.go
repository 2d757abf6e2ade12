// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health reports process readiness over HTTP.
package health

import (
	"context"
	"net/http"
)

// Metric is anything which can report whether it is healthy.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc is a func variant of the [Metric] interface.
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Stoppable is implemented by [mgbridge.Server].
type Stoppable interface {
	Stopped() bool
}

// Running is healthy until s has been stopped.
func Running(s Stoppable) Metric {
	return MetricFunc(func(context.Context) bool {
		return !s.Stopped()
	})
}

type andMetric []Metric

func (m andMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}

// And is healthy only while every metric is. With no metrics it is
// always healthy.
func And(metrics ...Metric) Metric {
	return andMetric(metrics)
}

// NewHandler serves 200 while m is healthy and 503 otherwise.
func NewHandler(m Metric) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Healthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}
