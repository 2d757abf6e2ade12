// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/z5labs/mgbridge/conn"
	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/native/nativetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	lib    *nativetest.Library
	ctx    native.Context
	d      *Dispatcher
	logs   *bytes.Buffer
	spans  *tracetest.InMemoryExporter
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, h Handler, libOpts []nativetest.Option, opts ...Option) *harness {
	t.Helper()

	lib := nativetest.New(libOpts...)
	logs := new(bytes.Buffer)
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
		WithTable(event.ForVersion(lib.Version())),
	}, opts...)
	d := New(lib, h, opts...)

	ctx := lib.Start(d.Trampoline(), "user-data", []*string{nil})
	require.NotZero(t, ctx)

	return &harness{
		lib:    lib,
		ctx:    ctx,
		d:      d,
		logs:   logs,
		spans:  spans,
		reader: reader,
	}
}

func (h *harness) sum(t *testing.T, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			s, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range s.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("will deliver the query variable of a new request", func(t *testing.T) {
		var got string
		h := newHarness(t, HandlerFunc(func(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
			if ev.Type != event.NewRequest {
				return false, nil
			}
			var err error
			got, err = v.QueryVariable("my_var")
			return err == nil, err
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{Info: nativetest.NewRequest("GET", "/show?my_var=hello")})
		status := h.lib.Fire(h.ctx, event.NewRequest, c)

		assert.Equal(t, native.StatusSuccess, status)
		assert.Equal(t, "hello", got)
		assert.Equal(t, Stats{Events: 1, Handled: 1}, h.d.Stats())
	})

	t.Run("will report unhandled events as an error status", func(t *testing.T) {
		h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
			return false, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		assert.Equal(t, native.StatusError, h.lib.Fire(h.ctx, event.RequestComplete, c))
		assert.Equal(t, Stats{Events: 1, Unhandled: 1}, h.d.Stats())
	})

	t.Run("will treat a nil handler as never handling", func(t *testing.T) {
		h := newHarness(t, nil, nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		assert.Equal(t, native.StatusError, h.lib.Fire(h.ctx, event.NewRequest, c))
	})

	t.Run("will decode every event of the latest protocol", func(t *testing.T) {
		var seen []event.Type
		var mu sync.Mutex
		h := newHarness(t, HandlerFunc(func(_ context.Context, ev event.Event, _ *conn.View) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Type)
			return true, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		for code := int32(0); code <= 8; code++ {
			assert.Equal(t, native.StatusSuccess, h.lib.FireCode(h.ctx, code, c))
		}
		assert.Equal(t, []event.Type{
			event.NewRequest,
			event.RequestComplete,
			event.HttpError,
			event.EventLog,
			event.InitSsl,
			event.WebsocketConnect,
			event.WebsocketReady,
			event.WebsocketMessage,
			event.WebsocketClose,
		}, seen)
	})

	t.Run("will attach the request info passed by legacy servers", func(t *testing.T) {
		var got event.Event
		var uri string
		h := newHarness(t, HandlerFunc(func(_ context.Context, ev event.Event, v *conn.View) (bool, error) {
			got = ev
			info, err := v.RequestInfo()
			uri = info.URI
			return true, err
		}), []nativetest.Option{nativetest.WithVersion("3.0")})

		c := h.lib.Connect(h.ctx, nativetest.Request{
			Info:        nativetest.NewRequest("GET", "/missing"),
			ReplyStatus: 404,
		})
		status := h.lib.FireCode(h.ctx, 1, c)

		assert.Equal(t, native.StatusSuccess, status)
		assert.Equal(t, event.HttpError, got.Type)
		require.NotNil(t, got.Info)
		assert.Equal(t, "/missing", uri)
		assert.Zero(t, h.lib.RequestInfoCalls(c))
	})

	t.Run("will record a span per event", func(t *testing.T) {
		h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
			return true, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		h.lib.Fire(h.ctx, event.EventLog, c)

		spans := h.spans.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "mgbridge.dispatch", spans[0].Name)

		attrs := map[string]string{}
		for _, kv := range spans[0].Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "event_log", attrs["mgbridge.event"])
		assert.Equal(t, "success", attrs["mgbridge.status"])
		assert.Equal(t, int64(1), h.sum(t, "mgbridge.dispatch.events"))
	})

	t.Run("will expire the view once the handler returns", func(t *testing.T) {
		var kept *conn.View
		h := newHarness(t, HandlerFunc(func(_ context.Context, _ event.Event, v *conn.View) (bool, error) {
			kept = v
			return true, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		h.lib.Fire(h.ctx, event.NewRequest, c)

		require.NotNil(t, kept)
		_, err := kept.Write([]byte("late"))
		assert.ErrorIs(t, err, conn.ErrExpired)
		assert.Empty(t, h.lib.Output(c))
	})

	t.Run("will give each event a fresh view", func(t *testing.T) {
		var views []*conn.View
		h := newHarness(t, HandlerFunc(func(_ context.Context, _ event.Event, v *conn.View) (bool, error) {
			views = append(views, v)
			return true, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		h.lib.Fire(h.ctx, event.NewRequest, c)
		h.lib.Fire(h.ctx, event.RequestComplete, c)

		require.Len(t, views, 2)
		assert.NotSame(t, views[0], views[1])
	})

	t.Run("will not handle an unknown event code", func(t *testing.T) {
		called := false
		h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
			called = true
			return true, nil
		}), nil)

		c := h.lib.Connect(h.ctx, nativetest.Request{})

		var status native.Status
		assert.NotPanics(t, func() {
			status = h.lib.FireCode(h.ctx, 99, c)
		})
		assert.Equal(t, native.StatusError, status)
		assert.False(t, called)
		assert.Contains(t, h.logs.String(), "protocol mismatch")
		assert.Equal(t, uint64(1), h.d.Stats().Mismatches)
		assert.Equal(t, int64(1), h.sum(t, "mgbridge.dispatch.protocol_mismatches"))
	})

	t.Run("will warn about an unknown code once per process", func(t *testing.T) {
		// warned is shared by every dispatcher, so no other test may use
		// this code.
		const code = 4242

		mismatchLines := func(logs string) (warn, debug int) {
			for _, line := range strings.Split(logs, "\n") {
				if !strings.Contains(line, "protocol mismatch") {
					continue
				}
				switch {
				case strings.Contains(line, "level=WARN"):
					warn++
				case strings.Contains(line, "level=DEBUG"):
					debug++
				}
			}
			return warn, debug
		}

		first := newHarness(t, handledFunc(), nil)
		c := first.lib.Connect(first.ctx, nativetest.Request{})
		assert.Equal(t, native.StatusError, first.lib.FireCode(first.ctx, code, c))
		assert.Equal(t, native.StatusError, first.lib.FireCode(first.ctx, code, c))

		warn, debug := mismatchLines(first.logs.String())
		assert.Equal(t, 1, warn)
		assert.Equal(t, 1, debug)
		assert.Equal(t, uint64(2), first.d.Stats().Mismatches)

		second := newHarness(t, handledFunc(), nil)
		c = second.lib.Connect(second.ctx, nativetest.Request{})
		assert.Equal(t, native.StatusError, second.lib.FireCode(second.ctx, code, c))

		warn, debug = mismatchLines(second.logs.String())
		assert.Zero(t, warn)
		assert.Equal(t, 1, debug)
		assert.Equal(t, uint64(1), second.d.Stats().Mismatches)
	})

	t.Run("will reject codes the legacy table does not know", func(t *testing.T) {
		h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
			return true, nil
		}), []nativetest.Option{nativetest.WithVersion("3.0")})

		c := h.lib.Connect(h.ctx, nativetest.Request{})
		assert.Equal(t, native.StatusError, h.lib.FireCode(h.ctx, 7, c))
		assert.Contains(t, h.logs.String(), "protocol mismatch")
	})

	t.Run("will report a handler fault", func(t *testing.T) {
		t.Run("if the handler returns an error", func(t *testing.T) {
			handlerErr := errors.New("failed")
			h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
				return true, handlerErr
			}), nil)

			c := h.lib.Connect(h.ctx, nativetest.Request{})
			status := h.lib.Fire(h.ctx, event.NewRequest, c)

			assert.Equal(t, native.StatusError, status)
			assert.Contains(t, h.logs.String(), "handler fault")
			assert.Contains(t, h.logs.String(), "event=new_request")
			assert.Equal(t, Stats{Events: 1, Unhandled: 1, Faults: 1}, h.d.Stats())
			assert.Equal(t, int64(1), h.sum(t, "mgbridge.dispatch.faults"))

			spans := h.spans.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status.Code)
		})

		t.Run("if the handler panics", func(t *testing.T) {
			h := newHarness(t, HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
				panic("boom")
			}), nil)

			c := h.lib.Connect(h.ctx, nativetest.Request{})

			var status native.Status
			assert.NotPanics(t, func() {
				status = h.lib.Fire(h.ctx, event.NewRequest, c)
			})
			assert.Equal(t, native.StatusError, status)
			assert.Contains(t, h.logs.String(), "handler fault")
			assert.Contains(t, h.logs.String(), "boom")
			assert.Equal(t, uint64(1), h.d.Stats().Faults)
		})
	})

	t.Run("will be safe for concurrent dispatch", func(t *testing.T) {
		h := newHarness(t, HandlerFunc(func(_ context.Context, _ event.Event, v *conn.View) (bool, error) {
			info, err := v.RequestInfo()
			if err != nil {
				return false, err
			}
			_, err = v.Printf("%s", info.URI)
			return true, err
		}), nil)

		const n = 32
		conns := make([]native.Conn, n)
		for i := range conns {
			conns[i] = h.lib.Connect(h.ctx, nativetest.Request{Info: nativetest.NewRequest("GET", "/c"+string(rune('a'+i%26)))})
		}

		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c native.Conn) {
				defer wg.Done()
				h.lib.Fire(h.ctx, event.NewRequest, c)
			}(c)
		}
		wg.Wait()

		for i, c := range conns {
			assert.Equal(t, "/c"+string(rune('a'+i%26)), h.lib.Output(c))
		}
		assert.Equal(t, uint64(n), h.d.Stats().Handled)
	})
}

func TestExplicitHandlerFunc(t *testing.T) {
	var gotInfo native.RequestInfo
	var gotUserData any
	h := newHarness(t, ExplicitHandlerFunc(func(_ context.Context, _ event.Event, _ *conn.View, info native.RequestInfo, userData any) (bool, error) {
		gotInfo, gotUserData = info, userData
		return true, nil
	}), nil)

	c := h.lib.Connect(h.ctx, nativetest.Request{Info: nativetest.NewRequest("POST", "/post")})
	assert.Equal(t, native.StatusSuccess, h.lib.Fire(h.ctx, event.NewRequest, c))
	assert.Equal(t, "POST", gotInfo.Method)
	assert.Equal(t, "/post", gotInfo.URI)
	assert.Equal(t, "user-data", gotUserData)
}

func TestProtocolMismatchError(t *testing.T) {
	err := ProtocolMismatchError{Code: 99, Protocol: "v4"}
	assert.Contains(t, err.Error(), "99")
	assert.Contains(t, err.Error(), "v4")
}

func TestHandlerFaultError(t *testing.T) {
	cause := errors.New("cause")
	err := HandlerFaultError{Event: event.NewRequest, Conn: 3, Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func handledFunc() Handler {
	return HandlerFunc(func(context.Context, event.Event, *conn.View) (bool, error) {
		return true, nil
	})
}
