// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mgbridge

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/z5labs/mgbridge/callback"
	"github.com/z5labs/mgbridge/dispatch"
	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/option"
	"github.com/z5labs/mgbridge/pkg/logging"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type serverOptions struct {
	table          *event.Table
	log            *slog.Logger
	userData       any
	drainTimeout   time.Duration
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures [Start].
type Option func(*serverOptions)

// WithEventTable overrides the event code table chosen from the native
// version.
func WithEventTable(t event.Table) Option {
	return func(so *serverOptions) {
		so.table = &t
	}
}

// WithLogger sets the logger used by the server and its dispatcher.
func WithLogger(log *slog.Logger) Option {
	return func(so *serverOptions) {
		so.log = log
	}
}

// WithUserData sets the value the native server returns from its user
// data accessor.
func WithUserData(v any) Option {
	return func(so *serverOptions) {
		so.userData = v
	}
}

// WithDrainTimeout bounds how long [Server.Close], [Server.Run] and the
// finalizer wait for running callbacks. Zero waits forever.
func WithDrainTimeout(d time.Duration) Option {
	return func(so *serverOptions) {
		so.drainTimeout = d
	}
}

// WithTracerProvider is passed through to the dispatcher.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(so *serverOptions) {
		so.tracerProvider = tp
	}
}

// WithMeterProvider is passed through to the dispatcher.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(so *serverOptions) {
		so.meterProvider = mp
	}
}

// Stats is a snapshot of server counters.
type Stats struct {
	Dispatch dispatch.Stats

	// Registered is the number of trampolines held for the native server.
	Registered int
	InFlight   int

	// Rejected counts native calls refused after stop began.
	Rejected uint64
}

// Server owns one running native server.
//
// Lifecycle methods (Stop, Close, SetOption) must not be called
// concurrently with each other, which mirrors the native contract.
type Server struct {
	*server
}

// server is split from Server so the finalizer can be attached to the
// handle while the trampoline only references the inner state.
type server struct {
	lib      native.Library
	ctx      native.Context
	log      *slog.Logger
	known    map[string]native.OptionSpec
	registry *callback.Registry
	disp     *dispatch.Dispatcher
	drain    time.Duration
	stopped  atomic.Bool
}

// Start launches a native server configured with options. The options
// are copied, so later changes to the table have no effect. A nil
// handler starts the server without a trampoline.
func Start(ctx context.Context, lib native.Library, options option.Table, h dispatch.Handler, opts ...Option) (*Server, error) {
	so := &serverOptions{
		log: logging.Discard(),
	}
	for _, opt := range opts {
		opt(so)
	}

	table := event.ForVersion(lib.Version())
	if so.table != nil {
		table = *so.table
	}

	s := &server{
		lib:      lib,
		log:      so.log,
		known:    make(map[string]native.OptionSpec),
		registry: callback.New(),
		drain:    so.drainTimeout,
	}
	for _, spec := range lib.ValidOptions() {
		s.known[spec.Name] = spec
	}

	var tramp native.Trampoline
	if h != nil {
		dopts := []dispatch.Option{
			dispatch.WithTable(table),
			dispatch.WithLogger(so.log),
			dispatch.WithBaseContext(context.WithoutCancel(ctx)),
		}
		if so.tracerProvider != nil {
			dopts = append(dopts, dispatch.WithTracerProvider(so.tracerProvider))
		}
		if so.meterProvider != nil {
			dopts = append(dopts, dispatch.WithMeterProvider(so.meterProvider))
		}
		s.disp = dispatch.New(lib, h, dopts...)
		_, tramp = s.registry.Register(s.disp.Trampoline())
	}

	s.ctx = lib.Start(tramp, so.userData, options.Clone().Flatten())
	if s.ctx == 0 {
		s.stopped.Store(true)
		err := s.registry.Seal(context.Background())
		err = errors.Join(err, s.registry.ReleaseAll())
		if err != nil {
			s.log.ErrorContext(ctx, "failed to release callbacks after start failure", slogfield.Error(err))
		}
		return nil, StartFailureError{Version: lib.Version()}
	}

	s.log.InfoContext(
		ctx,
		"started native server",
		slogfield.String("version", lib.Version()),
		slogfield.Protocol(table.Name()),
		slogfield.Bool("handler", h != nil),
	)

	srv := &Server{server: s}
	runtime.SetFinalizer(srv, func(srv *Server) {
		srv.finalize()
	})
	return srv, nil
}

func (s *server) finalize() {
	if s.stopped.Load() {
		return
	}
	s.log.Warn("native server dropped without being stopped")

	ctx, cancel := s.drainContext()
	defer cancel()
	err := s.stop(ctx)
	if err != nil && !errors.Is(err, ErrAlreadyStopped) {
		s.log.Error("failed to stop dropped native server", slogfield.Error(err))
	}
}

func (s *server) drainContext() (context.Context, context.CancelFunc) {
	if s.drain <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.drain)
}

// Stop stops the server. A native server implementing [native.Quiescer]
// is quiesced first. New callbacks are refused as soon as Stop is
// called, running callbacks are awaited until ctx is done, then the
// native server is stopped and the callbacks released. A second call
// returns [ErrAlreadyStopped].
func (s *Server) Stop(ctx context.Context) error {
	err := s.stop(ctx)
	runtime.SetFinalizer(s, nil)
	return err
}

func (s *server) stop(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return ErrAlreadyStopped
	}

	// Quiesce before sealing, otherwise requests arriving during the
	// drain see an unhandled event and get the native fallback.
	if q, ok := s.lib.(native.Quiescer); ok {
		q.Quiesce(s.ctx)
	}

	drainErr := s.registry.Seal(ctx)
	if drainErr != nil {
		s.log.WarnContext(
			ctx,
			"stopping native server before callbacks drained",
			slogfield.Int("in_flight", s.registry.InFlight()),
			slogfield.Error(drainErr),
		)
	}

	s.lib.Stop(s.ctx)

	err := s.registry.ReleaseAll()
	if errors.Is(err, callback.ErrNotSealed) {
		inFlight := s.registry.InFlight()
		go s.releaseWhenDrained()
		return DrainError{InFlight: inFlight, Cause: drainErr}
	}
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "stopped native server")
	return nil
}

func (s *server) releaseWhenDrained() {
	err := s.registry.Seal(context.Background())
	if err == nil {
		err = s.registry.ReleaseAll()
	}
	if err != nil {
		s.log.Error("failed to release callbacks", slogfield.Error(err))
		return
	}
	s.log.Info("released callbacks after drain")
}

// Close implements [io.Closer]. It stops the server, waiting for running
// callbacks no longer than the drain timeout.
func (s *Server) Close() error {
	ctx, cancel := s.drainContext()
	defer cancel()
	return s.Stop(ctx)
}

// Run blocks until ctx is done and then stops the server.
func (s *Server) Run(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrAlreadyStopped
	}
	<-ctx.Done()

	err := s.Close()
	if errors.Is(err, ErrAlreadyStopped) {
		return nil
	}
	return err
}

// Option returns the current value of an option as reported by the
// native server.
func (s *Server) Option(name string) (string, error) {
	if s.stopped.Load() {
		return "", ErrAlreadyStopped
	}
	if _, ok := s.known[name]; !ok {
		return "", ValidationFailureError{Name: name, Status: native.StatusNotFound}
	}

	v, ok := s.lib.Option(s.ctx, name)
	if !ok {
		return "", ValidationFailureError{Name: name, Status: native.StatusNotFound}
	}
	return v, nil
}

// SetOption changes an option on the running server. Open connections
// keep whatever the native server already gave them.
func (s *Server) SetOption(name, value string) error {
	if s.stopped.Load() {
		return ErrAlreadyStopped
	}
	if _, ok := s.known[name]; !ok {
		return ValidationFailureError{Name: name, Value: value, Status: native.StatusNotFound}
	}

	status := s.lib.SetOption(s.ctx, name, value)
	if status != native.StatusSuccess {
		s.log.Warn(
			"native server rejected option",
			slogfield.Option(name, value),
			slogfield.Status(status),
		)
		return ValidationFailureError{Name: name, Value: value, Status: status}
	}
	s.log.Info("updated option", slogfield.Option(name, value))
	return nil
}

// ValidOptions returns the options known to the native server with their
// defaults, as fetched at start.
func (s *Server) ValidOptions() []native.OptionSpec {
	specs := make([]native.OptionSpec, 0, len(s.known))
	for _, spec := range s.known {
		specs = append(specs, spec)
	}
	slices.SortFunc(specs, func(a, b native.OptionSpec) int {
		return strings.Compare(a.Name, b.Name)
	})
	return specs
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Registered: s.registry.Len(),
		InFlight:   s.registry.InFlight(),
		Rejected:   s.registry.Rejected(),
	}
	if s.disp != nil {
		st.Dispatch = s.disp.Stats()
	}
	return st
}

// Stopped reports whether the server has been stopped.
func (s *Server) Stopped() bool {
	return s.stopped.Load()
}
