// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package engine is a thread per connection HTTP server implementing
// [native.Library] over the net package.
//
// Every accepted connection is served by its own goroutine, bounded by
// the num_threads option. Requests are offered to the trampoline first
// and fall back to serving files from document_root when the event is
// not handled.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/option"
	"github.com/z5labs/mgbridge/pkg/logging"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"golang.org/x/sync/errgroup"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger used for engine diagnostics. Request
// diagnostics go through the EventLog event first.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithVersion sets the reported native revision. Revisions below 4 use
// the legacy event codes and pass the request info with every event.
func WithVersion(v string) Option {
	return func(e *Engine) {
		e.version = v
	}
}

// Engine is safe for concurrent use and may run several servers.
type Engine struct {
	version string
	table   event.Table
	log     *slog.Logger

	mu      sync.RWMutex
	servers map[native.Context]*server
	conns   map[native.Conn]*connection

	nextCtx  atomic.Uint64
	nextConn atomic.Uint64
}

var (
	_ native.Library  = (*Engine)(nil)
	_ native.Quiescer = (*Engine)(nil)
)

// New returns an engine speaking the latest protocol.
func New(opts ...Option) *Engine {
	e := &Engine{
		version: "4.0",
		log:     logging.Discard(),
		servers: make(map[native.Context]*server),
		conns:   make(map[native.Conn]*connection),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.table = event.ForVersion(e.version)
	return e
}

// Version implements the [native.Server] interface.
func (e *Engine) Version() string {
	return e.version
}

// ValidOptions implements the [native.Server] interface.
func (e *Engine) ValidOptions() []native.OptionSpec {
	return slices.Clone(specs)
}

// Start implements the [native.Server] interface. It binds every
// listening port before returning, so a zero handle means nothing is
// listening.
func (e *Engine) Start(t native.Trampoline, userData any, options []*string) native.Context {
	given, err := option.Unflatten(options)
	if err != nil {
		e.log.Error("malformed option array", slogfield.Error(err))
		return 0
	}
	st, err := newSettings(given)
	if err != nil {
		e.log.Error("rejected options", slogfield.Error(err))
		return 0
	}

	s := &server{
		engine:   e,
		tramp:    t,
		userData: userData,
		settings: st,
		log:      e.log,
		active:   make(map[net.Conn]struct{}),
	}

	err = s.listen()
	if err != nil {
		e.log.Error("failed to start server", slogfield.Error(err))
		return 0
	}

	threads, _ := strconv.Atoi(st.get(OptNumThreads))
	s.workers.SetLimit(threads)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, ln := range s.listeners {
		s.acceptors.Go(func() error {
			return s.acceptLoop(ctx, ln)
		})
	}

	handle := native.Context(e.nextCtx.Add(1))
	e.mu.Lock()
	e.servers[handle] = s
	e.mu.Unlock()

	e.log.Info(
		"listening",
		slogfield.String("listening_ports", st.get(OptListeningPorts)),
		slogfield.Int("num_threads", threads),
	)
	return handle
}

// Stop implements the [native.Server] interface. It closes the listeners,
// interrupts blocked reads on open connections and waits for every
// worker to return.
func (e *Engine) Stop(ctx native.Context) {
	e.mu.Lock()
	s, ok := e.servers[ctx]
	delete(e.servers, ctx)
	e.mu.Unlock()
	if !ok {
		return
	}
	s.shutdown()
}

// Quiesce implements the [native.Quiescer] interface. The listeners are
// closed and requests read from connections that are already open get
// 503 Service Unavailable instead of reaching the trampoline or
// document_root. Requests already being handled are left alone.
func (e *Engine) Quiesce(ctx native.Context) {
	s := e.server(ctx)
	if s == nil {
		return
	}
	s.quiesce()
}

// Option implements the [native.Server] interface.
func (e *Engine) Option(ctx native.Context, name string) (string, bool) {
	s := e.server(ctx)
	if s == nil || !knownOption(name) {
		return "", false
	}
	return s.settings.get(name), true
}

// SetOption implements the [native.Server] interface. Options consumed at
// start, like listening_ports, cannot be changed.
func (e *Engine) SetOption(ctx native.Context, name, value string) native.Status {
	s := e.server(ctx)
	if s == nil {
		return native.StatusError
	}
	if !knownOption(name) {
		return native.StatusNotFound
	}
	if startOnly[name] {
		return native.StatusError
	}
	if err := validate(name, value); err != nil {
		e.log.Warn("invalid option value", slogfield.Option(name, value), slogfield.Error(err))
		return native.StatusError
	}
	s.settings.set(name, value)
	return native.StatusSuccess
}

// Addrs returns the bound listener addresses of a running server, which
// resolves ports given as 0.
func (e *Engine) Addrs(ctx native.Context) []net.Addr {
	s := e.server(ctx)
	if s == nil {
		return nil
	}
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

func (e *Engine) server(ctx native.Context) *server {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.servers[ctx]
}

func (e *Engine) register(c *connection) native.Conn {
	h := native.Conn(e.nextConn.Add(1))
	c.handle = h
	e.mu.Lock()
	e.conns[h] = c
	e.mu.Unlock()
	return h
}

func (e *Engine) unregister(c *connection) {
	e.mu.Lock()
	delete(e.conns, c.handle)
	e.mu.Unlock()
}

func (e *Engine) conn(h native.Conn) *connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conns[h]
}

// server is one running instance.
type server struct {
	engine   *Engine
	tramp    native.Trampoline
	userData any
	settings *settings
	log      *slog.Logger

	tlsConfig *tls.Config
	listeners []net.Listener
	cancel    context.CancelFunc
	acceptors errgroup.Group
	workers   errgroup.Group

	mu      sync.Mutex
	closing bool
	active  map[net.Conn]struct{}

	fileMu sync.Mutex
}

// fire offers an event to the trampoline and reports whether it was
// handled.
func (s *server) fire(typ event.Type, c *connection) bool {
	if s.tramp == nil {
		return false
	}
	code, ok := s.engine.table.Code(typ)
	if !ok {
		return false
	}

	var info *native.RequestInfo
	if s.engine.table.Name() == event.Legacy.Name() {
		ri := c.info
		info = &ri
	}
	return s.tramp(code, c.handle, info) == native.StatusSuccess
}

// track adds or removes an open connection. Adding fails once the server
// is closing.
func (s *server) track(nc net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.active, nc)
		return true
	}
	if s.closing {
		return false
	}
	s.active[nc] = struct{}{}
	return true
}

func (s *server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// armDeadline sets the read deadline of nc unless the server is closing,
// in which case shutdown owns the deadline and false is returned. A zero
// d clears the deadline.
func (s *server) armDeadline(nc net.Conn, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	nc.SetReadDeadline(t)
	return true
}

func (s *server) quiesce() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()
	for _, ln := range s.listeners {
		ln.Close()
	}
}

func (s *server) shutdown() {
	s.quiesce()

	s.mu.Lock()
	for nc := range s.active {
		unblock(nc)
	}
	s.mu.Unlock()

	err := s.acceptors.Wait()
	if err != nil {
		s.log.Error("accept loop failed", slogfield.Error(err))
	}
	s.workers.Wait()
	s.log.Info("stopped server")
}

func (s *server) listen() error {
	ports, err := parsePorts(s.settings.get(OptListeningPorts))
	if err != nil {
		return err
	}

	if slices.ContainsFunc(ports, func(p port) bool { return p.tls }) {
		err = s.initTLS()
		if err != nil {
			return err
		}
	}

	for _, p := range ports {
		ln, err := net.Listen("tcp", p.addr)
		if err != nil {
			for _, l := range s.listeners {
				l.Close()
			}
			s.listeners = nil
			return err
		}
		if p.tls {
			ln = tls.NewListener(ln, s.tlsConfig)
		}
		s.listeners = append(s.listeners, ln)
	}
	return nil
}

// ErrNoCertificate is logged when a TLS port is configured but neither
// ssl_certificate nor an InitSsl handler provides a certificate.
var ErrNoCertificate = errors.New("no certificate for tls listener")

// initTLS loads ssl_certificate, a PEM file holding both the certificate
// and its key, and offers the config to the InitSsl event so handlers
// can adjust it.
func (s *server) initTLS() error {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if path := s.settings.get(OptSSLCertificate); path != "" {
		cert, err := tls.LoadX509KeyPair(path, path)
		if err != nil {
			return err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	c := &connection{srv: s, ssl: cfg}
	s.engine.register(c)
	s.fire(event.InitSsl, c)
	s.engine.unregister(c)

	if len(cfg.Certificates) == 0 && cfg.GetCertificate == nil {
		return ErrNoCertificate
	}
	s.tlsConfig = cfg
	return nil
}
