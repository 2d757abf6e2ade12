// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type otelRecord struct {
	Message string `json:"msg"`
	OTel    struct {
		TraceID string `json:"trace_id"`
		SpanID  string `json:"span_id"`
	} `json:"otel"`
}

func TestHandler_Handle(t *testing.T) {
	t.Run("will not add trace id and span id", func(t *testing.T) {
		t.Run("if the span context is invalid", func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, Options{})

			log.InfoContext(context.Background(), "test")

			var record otelRecord
			require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
			assert.Equal(t, "test", record.Message)
			assert.Empty(t, record.OTel.TraceID)
			assert.Empty(t, record.OTel.SpanID)
		})
	})

	t.Run("will add trace id and span id", func(t *testing.T) {
		t.Run("if the span context is valid", func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, Options{})

			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
			spanCtx, span := tp.Tracer("logging").Start(context.Background(), "test")
			defer span.End()

			log.With(slog.String("a", "b")).InfoContext(spanCtx, "test")

			var record otelRecord
			require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
			assert.Equal(t, span.SpanContext().TraceID().String(), record.OTel.TraceID)
			assert.Equal(t, span.SpanContext().SpanID().String(), record.OTel.SpanID)
		})
	})
}

func TestNew(t *testing.T) {
	t.Run("will write text records", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&buf, Options{Format: FormatText})

		log.Info("hello")
		assert.True(t, strings.Contains(buf.String(), "msg=hello"), buf.String())
	})

	t.Run("will respect the level", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&buf, Options{Level: slog.LevelWarn})

		log.Info("dropped")
		assert.Zero(t, buf.Len())
	})
}

func TestParse(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)

	f, err := ParseFormat("TEXT")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	var ferr UnknownFormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
	log.Error("nothing happens")
}
