// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStdout(t *testing.T) {
	t.Run("will flush spans and metrics on shutdown", func(t *testing.T) {
		var out bytes.Buffer
		p, err := Stdout(context.Background(), StdoutConfig{
			ServiceName: "mgserve-test",
			Out:         &out,
		})
		require.NoError(t, err)

		_, span := p.Tracer.Tracer("test").Start(context.Background(), "test.span")
		span.End()

		counter, err := p.Meter.Meter("test").Int64Counter("test.counter")
		require.NoError(t, err)
		counter.Add(context.Background(), 2)

		require.NoError(t, p.Shutdown(context.Background()))
		require.Contains(t, out.String(), "test.span")
		require.Contains(t, out.String(), "test.counter")
		require.Contains(t, out.String(), "mgserve-test")
	})
}

func TestNoop(t *testing.T) {
	t.Run("will shut down without error", func(t *testing.T) {
		p := Noop()
		_, span := p.Tracer.Tracer("test").Start(context.Background(), "ignored")
		span.End()
		require.False(t, span.SpanContext().IsValid())
		require.NoError(t, p.Shutdown(context.Background()))
	})
}
