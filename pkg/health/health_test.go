// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type healthyMetric bool

func (m healthyMetric) Healthy(_ context.Context) bool {
	return bool(m)
}

type stoppable bool

func (s stoppable) Stopped() bool {
	return bool(s)
}

func TestAnd(t *testing.T) {
	testCases := []struct {
		Name    string
		Metrics []Metric
		Healthy bool
	}{
		{Name: "will be healthy if there are no metrics", Healthy: true},
		{Name: "will be healthy if every metric is", Metrics: []Metric{healthyMetric(true), healthyMetric(true)}, Healthy: true},
		{Name: "will be unhealthy if one metric is not", Metrics: []Metric{healthyMetric(true), healthyMetric(false)}},
		{Name: "will be unhealthy if the first metric is not", Metrics: []Metric{healthyMetric(false), healthyMetric(true)}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			m := And(testCase.Metrics...)
			assert.Equal(t, testCase.Healthy, m.Healthy(context.Background()))
		})
	}
}

func TestRunning(t *testing.T) {
	t.Run("will be healthy while the server runs", func(t *testing.T) {
		assert.True(t, Running(stoppable(false)).Healthy(context.Background()))
	})

	t.Run("will be unhealthy once the server stopped", func(t *testing.T) {
		assert.False(t, Running(stoppable(true)).Healthy(context.Background()))
	})
}

func TestNewHandler(t *testing.T) {
	testCases := []struct {
		Name   string
		Metric Metric
		Status int
	}{
		{Name: "will return 200 if healthy", Metric: healthyMetric(true), Status: http.StatusOK},
		{Name: "will return 503 if unhealthy", Metric: healthyMetric(false), Status: http.StatusServiceUnavailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/healthz", nil)

			NewHandler(testCase.Metric).ServeHTTP(w, r)
			assert.Equal(t, testCase.Status, w.Code)
		})
	}
}
