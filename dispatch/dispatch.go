// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dispatch turns the single native event entry point into typed
// events delivered to a [Handler].
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z5labs/mgbridge/conn"
	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/internal/try"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/pkg/logging"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/z5labs/mgbridge/dispatch"

// Handler receives every event of a server. Returning true reports the
// event as handled. A returned error is a handler fault and, like a
// panic, is reported to the native server as not handled.
type Handler interface {
	Handle(ctx context.Context, ev event.Event, v *conn.View) (bool, error)
}

// HandlerFunc is a func variant of the [Handler] interface.
type HandlerFunc func(ctx context.Context, ev event.Event, v *conn.View) (bool, error)

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	return f(ctx, ev, v)
}

// ExplicitHandlerFunc is the call shape which also receives the request
// info and the server user data as arguments.
type ExplicitHandlerFunc func(ctx context.Context, ev event.Event, v *conn.View, info native.RequestInfo, userData any) (bool, error)

// Handle implements the [Handler] interface.
func (f ExplicitHandlerFunc) Handle(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return false, err
	}
	userData, err := v.UserData()
	if err != nil {
		return false, err
	}
	return f(ctx, ev, v, info, userData)
}

// ProtocolMismatchError is reported for a wire code missing from the
// configured event table, which means the native server speaks a
// different protocol revision.
type ProtocolMismatchError struct {
	Code     int32
	Protocol string
}

// Error implements the [builtin.error] interface.
func (e ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: event code %d is not part of protocol %s", e.Code, e.Protocol)
}

// HandlerFaultError wraps an error returned, or a panic raised, by a
// [Handler].
type HandlerFaultError struct {
	Event event.Type
	Conn  native.Conn
	Cause error
}

// Error implements the [builtin.error] interface.
func (e HandlerFaultError) Error() string {
	return fmt.Sprintf("handler fault on %s event for conn %d: %s", e.Event, e.Conn, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e HandlerFaultError) Unwrap() error {
	return e.Cause
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Events     uint64
	Handled    uint64
	Unhandled  uint64
	Faults     uint64
	Mismatches uint64
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTable sets the event code table. The default is [event.Latest].
func WithTable(t event.Table) Option {
	return func(d *Dispatcher) {
		d.table = t
	}
}

// WithLogger sets the logger. The default discards records.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracerProvider = tp
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		d.meterProvider = mp
	}
}

// WithBaseContext sets the context every handler context derives from.
func WithBaseContext(ctx context.Context) Option {
	return func(d *Dispatcher) {
		d.baseCtx = ctx
	}
}

// Dispatcher delivers native events to a [Handler]. It is safe for
// concurrent use by many native worker threads.
type Dispatcher struct {
	lib     native.Connection
	handler Handler
	table   event.Table
	log     *slog.Logger
	baseCtx context.Context

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer

	eventCounter    metric.Int64Counter
	faultCounter    metric.Int64Counter
	mismatchCounter metric.Int64Counter
	duration        metric.Float64Histogram

	events     atomic.Uint64
	handled    atomic.Uint64
	unhandled  atomic.Uint64
	faults     atomic.Uint64
	mismatches atomic.Uint64
}

// New returns a Dispatcher delivering events from lib to h.
func New(lib native.Connection, h Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lib:     lib,
		handler: h,
		table:   event.Latest,
		log:     logging.Discard(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracerProvider == nil {
		d.tracerProvider = otel.GetTracerProvider()
	}
	if d.meterProvider == nil {
		d.meterProvider = otel.GetMeterProvider()
	}
	d.tracer = d.tracerProvider.Tracer(instrumentationName)
	d.initMetrics()
	return d
}

func (d *Dispatcher) initMetrics() {
	meter := d.meterProvider.Meter(instrumentationName)

	// The API hands back usable no-op instruments alongside an error,
	// so failures only cost the measurements.
	var err error
	d.eventCounter, err = meter.Int64Counter(
		"mgbridge.dispatch.events",
		metric.WithDescription("Native events dispatched, by event type and status."),
	)
	d.logInstrumentErr(err)
	d.faultCounter, err = meter.Int64Counter(
		"mgbridge.dispatch.faults",
		metric.WithDescription("Handler errors and panics."),
	)
	d.logInstrumentErr(err)
	d.mismatchCounter, err = meter.Int64Counter(
		"mgbridge.dispatch.protocol_mismatches",
		metric.WithDescription("Events with a code missing from the event table."),
	)
	d.logInstrumentErr(err)
	d.duration, err = meter.Float64Histogram(
		"mgbridge.dispatch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent in the handler."),
	)
	d.logInstrumentErr(err)
}

func (d *Dispatcher) logInstrumentErr(err error) {
	if err != nil {
		d.log.Warn("failed to create instrument", slogfield.Error(err))
	}
}

// Table returns the event code table in use.
func (d *Dispatcher) Table() event.Table {
	return d.table
}

// Trampoline returns d as a [native.Trampoline].
func (d *Dispatcher) Trampoline() native.Trampoline {
	return d.Dispatch
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Events:     d.events.Load(),
		Handled:    d.handled.Load(),
		Unhandled:  d.unhandled.Load(),
		Faults:     d.faults.Load(),
		Mismatches: d.mismatches.Load(),
	}
}

// Dispatch decodes one native event and delivers it. It never panics:
// unknown codes and handler faults are both reported as
// [native.StatusError], which the native server treats as not handled.
func (d *Dispatcher) Dispatch(code int32, c native.Conn, info *native.RequestInfo) native.Status {
	typ, ok := d.table.Lookup(code)
	if !ok {
		d.mismatch(code, c)
		return native.StatusError
	}
	d.events.Add(1)

	ev := event.Event{
		Type: typ,
		Code: code,
		Conn: c,
		Info: info,
	}

	spanCtx, span := d.tracer.Start(d.baseCtx, "mgbridge.dispatch", trace.WithAttributes(
		attribute.String("mgbridge.event", typ.String()),
		attribute.Int64("mgbridge.event_code", int64(code)),
		attribute.Int64("mgbridge.conn", int64(c)),
	))
	defer span.End()

	v := conn.New(d.lib, c, info)
	start := time.Now()
	handled, err := d.invoke(spanCtx, ev, v)
	elapsed := time.Since(start)
	v.Expire()

	status := native.StatusSuccess
	switch {
	case err != nil:
		status = native.StatusError
		ferr := HandlerFaultError{Event: typ, Conn: c, Cause: err}
		d.faults.Add(1)
		d.unhandled.Add(1)
		d.faultCounter.Add(spanCtx, 1, metric.WithAttributes(attribute.String("mgbridge.event", typ.String())))
		span.RecordError(ferr)
		span.SetStatus(codes.Error, "handler fault")
		d.log.ErrorContext(
			spanCtx,
			"handler fault",
			slogfield.Event(typ),
			slogfield.Conn(c),
			slogfield.Error(ferr),
		)
	case handled:
		d.handled.Add(1)
	default:
		status = native.StatusError
		d.unhandled.Add(1)
	}

	attrs := metric.WithAttributes(
		attribute.String("mgbridge.event", typ.String()),
		attribute.String("mgbridge.status", status.String()),
	)
	d.eventCounter.Add(spanCtx, 1, attrs)
	d.duration.Record(spanCtx, elapsed.Seconds(), attrs)
	span.SetAttributes(attribute.String("mgbridge.status", status.String()))
	return status
}

func (d *Dispatcher) invoke(ctx context.Context, ev event.Event, v *conn.View) (handled bool, err error) {
	defer try.Recover(&err)

	if d.handler == nil {
		return false, nil
	}
	return d.handler.Handle(ctx, ev, v)
}

// warned holds the (protocol, code) pairs already reported at warn level.
var warned sync.Map

type mismatchKey struct {
	protocol string
	code     int32
}

func (d *Dispatcher) mismatch(code int32, c native.Conn) {
	d.mismatches.Add(1)
	d.mismatchCounter.Add(d.baseCtx, 1, metric.WithAttributes(
		attribute.Int64("mgbridge.event_code", int64(code)),
	))

	err := ProtocolMismatchError{Code: code, Protocol: d.table.Name()}
	attrs := []any{
		slogfield.Code(code),
		slogfield.Protocol(d.table.Name()),
		slogfield.Conn(c),
		slogfield.Error(err),
	}

	_, seen := warned.LoadOrStore(mismatchKey{protocol: d.table.Name(), code: code}, struct{}{})
	if !seen {
		d.log.WarnContext(d.baseCtx, "protocol mismatch: check that the event table matches the native server version", attrs...)
		return
	}
	d.log.DebugContext(d.baseCtx, "protocol mismatch", attrs...)
}
