// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nativetest provides an in-memory [native.Library] for tests.
// Connections are injected with [Library.Connect] and events are fired
// with [Library.Fire], so nothing listens on a socket.
package nativetest

import (
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/internal/cfmt"
	"github.com/z5labs/mgbridge/internal/formvar"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/option"
)

// DefaultOptions is the option table used unless [WithOptions] is given.
var DefaultOptions = []native.OptionSpec{
	{Name: "document_root", Default: ".", HasDefault: true},
	{Name: "listening_ports", Default: "8080", HasDefault: true},
	{Name: "num_threads", Default: "10", HasDefault: true},
	{Name: "enable_directory_listing", Default: "yes", HasDefault: true},
	{Name: "index_files", Default: "index.html,index.htm", HasDefault: true},
	{Name: "error_log_file"},
	{Name: "access_log_file"},
}

// Request describes one injected connection.
type Request struct {
	Info native.RequestInfo
	Body []byte

	ReplyStatus     int
	LogMessage      string
	SSLContext      any
	WebsocketOpcode int

	// WriteLimit caps the bytes accepted per write when positive, which
	// simulates short writes.
	WriteLimit int
}

// Frame is a websocket frame written by the bridge.
type Frame struct {
	Opcode int
	Data   []byte
}

// Option configures a [Library].
type Option func(*Library)

// WithVersion sets the reported native version. Versions below 4 speak
// the legacy protocol and pass the request info to every event.
func WithVersion(v string) Option {
	return func(l *Library) {
		l.version = v
	}
}

// WithOptions replaces the known option table.
func WithOptions(specs ...native.OptionSpec) Option {
	return func(l *Library) {
		l.specs = specs
	}
}

// WithReadOnly marks options which reject live updates.
func WithReadOnly(names ...string) Option {
	return func(l *Library) {
		for _, name := range names {
			l.readOnly[name] = true
		}
	}
}

// WithStartFailure makes every Start call fail, as if the port was taken.
func WithStartFailure() Option {
	return func(l *Library) {
		l.failStart = true
	}
}

type server struct {
	tramp    native.Trampoline
	userData any
	options  option.Table
	quiesced bool
	stopped  bool
}

type connection struct {
	req      Request
	ctx      native.Context
	body     *bytes.Reader
	out      bytes.Buffer
	files    []string
	frames   []Frame
	calls    int
	infoHits int
}

// Library is the fixture. It is safe for concurrent use.
type Library struct {
	version   string
	specs     []native.OptionSpec
	readOnly  map[string]bool
	failStart bool

	mu       sync.Mutex
	servers  map[native.Context]*server
	conns    map[native.Conn]*connection
	nextCtx  native.Context
	nextConn native.Conn
	stops    int
	order    []string
}

var (
	_ native.Library  = (*Library)(nil)
	_ native.Quiescer = (*Library)(nil)
)

// New returns a fixture speaking the latest protocol.
func New(opts ...Option) *Library {
	l := &Library{
		version:  "4.0",
		specs:    DefaultOptions,
		readOnly: make(map[string]bool),
		servers:  make(map[native.Context]*server),
		conns:    make(map[native.Conn]*connection),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Version implements the [native.Server] interface.
func (l *Library) Version() string {
	return l.version
}

// ValidOptions implements the [native.Server] interface.
func (l *Library) ValidOptions() []native.OptionSpec {
	return slices.Clone(l.specs)
}

func (l *Library) known(name string) bool {
	return slices.ContainsFunc(l.specs, func(s native.OptionSpec) bool {
		return s.Name == name
	})
}

// Start implements the [native.Server] interface. Unknown option names
// fail the start, as does a malformed option array.
func (l *Library) Start(t native.Trampoline, userData any, options []*string) native.Context {
	if l.failStart {
		return 0
	}
	given, err := option.Unflatten(options)
	if err != nil {
		return 0
	}

	table := make(option.Table, len(l.specs))
	for _, s := range l.specs {
		if s.HasDefault {
			table[s.Name] = s.Default
		}
	}
	for name, value := range given {
		if !l.known(name) {
			return 0
		}
		table[name] = value
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextCtx++
	l.servers[l.nextCtx] = &server{
		tramp:    t,
		userData: userData,
		options:  table,
	}
	return l.nextCtx
}

// Quiesce implements the [native.Quiescer] interface. It only records
// the call; Fire keeps reaching the trampoline so callers can observe
// how a quiesced server is gated.
func (l *Library) Quiesce(ctx native.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.servers[ctx]; ok && !s.stopped {
		s.quiesced = true
		l.order = append(l.order, "quiesce")
	}
}

// Quiesced reports whether Quiesce was called for ctx.
func (l *Library) Quiesced(ctx native.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[ctx]
	return ok && s.quiesced
}

// Lifecycle returns the lifecycle calls made so far, in order.
func (l *Library) Lifecycle() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

// Stop implements the [native.Server] interface.
func (l *Library) Stop(ctx native.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stops++
	l.order = append(l.order, "stop")
	if s, ok := l.servers[ctx]; ok {
		s.stopped = true
	}
}

// Stops returns how many times Stop was called.
func (l *Library) Stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

// Running reports whether ctx was started and not yet stopped.
func (l *Library) Running(ctx native.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.servers[ctx]
	return ok && !s.stopped
}

// Option implements the [native.Server] interface.
func (l *Library) Option(ctx native.Context, name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.servers[ctx]
	if !ok || !l.known(name) {
		return "", false
	}
	return s.options[name], true
}

// SetOption implements the [native.Server] interface.
func (l *Library) SetOption(ctx native.Context, name, value string) native.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.servers[ctx]
	if !ok || s.stopped {
		return native.StatusError
	}
	if !l.known(name) {
		return native.StatusNotFound
	}
	if l.readOnly[name] {
		return native.StatusError
	}
	s.options[name] = value
	return native.StatusSuccess
}

// Connect injects a connection for the server ctx.
func (l *Library) Connect(ctx native.Context, req Request) native.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextConn++
	l.conns[l.nextConn] = &connection{
		req:  req,
		ctx:  ctx,
		body: bytes.NewReader(req.Body),
	}
	return l.nextConn
}

// Fire invokes the trampoline of the server ctx the way the native
// server would. It reports [native.StatusError] if the server has no
// trampoline or is unknown.
func (l *Library) Fire(ctx native.Context, typ event.Type, c native.Conn) native.Status {
	code, ok := event.ForVersion(l.version).Code(typ)
	if !ok {
		return native.StatusError
	}
	return l.FireCode(ctx, code, c)
}

// FireCode is like [Library.Fire] but with a raw wire code.
func (l *Library) FireCode(ctx native.Context, code int32, c native.Conn) native.Status {
	l.mu.Lock()
	s, ok := l.servers[ctx]
	var info *native.RequestInfo
	if cn, found := l.conns[c]; found && l.legacy() {
		ri := cn.req.Info
		info = &ri
	}
	l.mu.Unlock()

	if !ok || s.tramp == nil {
		return native.StatusError
	}
	return s.tramp(code, c, info)
}

func (l *Library) legacy() bool {
	return event.ForVersion(l.version).Name() == event.Legacy.Name()
}

// LastContext returns the context of the most recent successful Start,
// or zero if there was none.
func (l *Library) LastContext() native.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextCtx
}

// Trampoline returns the trampoline given to Start for ctx.
func (l *Library) Trampoline(ctx native.Context) native.Trampoline {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.servers[ctx]; ok {
		return s.tramp
	}
	return nil
}

// Output returns everything written to c.
func (l *Library) Output(c native.Conn) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cn, ok := l.conns[c]; ok {
		return cn.out.String()
	}
	return ""
}

// SentFiles returns the paths passed to SendFile for c.
func (l *Library) SentFiles(c native.Conn) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cn, ok := l.conns[c]; ok {
		return slices.Clone(cn.files)
	}
	return nil
}

// Frames returns the websocket frames written to c.
func (l *Library) Frames(c native.Conn) []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cn, ok := l.conns[c]; ok {
		return slices.Clone(cn.frames)
	}
	return nil
}

// Calls returns how many per-connection calls reached c.
func (l *Library) Calls(c native.Conn) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cn, ok := l.conns[c]; ok {
		return cn.calls
	}
	return 0
}

// RequestInfoCalls returns how many times the request info of c was
// fetched.
func (l *Library) RequestInfoCalls(c native.Conn) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cn, ok := l.conns[c]; ok {
		return cn.infoHits
	}
	return 0
}

// with runs f against the state of c while holding the lock. It reports
// false for unknown handles.
func (l *Library) with(c native.Conn, f func(*connection)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cn, ok := l.conns[c]
	if !ok {
		return false
	}
	cn.calls++
	f(cn)
	return true
}

// Header implements the [native.Connection] interface. Names are
// matched case-insensitively.
func (l *Library) Header(c native.Conn, name string) (value string, found bool) {
	l.with(c, func(cn *connection) {
		for _, h := range cn.req.Info.HeaderSlice() {
			if strings.EqualFold(h.Name, name) {
				value, found = h.Value, true
				return
			}
		}
	})
	return
}

// RequestInfo implements the [native.Connection] interface.
func (l *Library) RequestInfo(c native.Conn) (info *native.RequestInfo) {
	l.with(c, func(cn *connection) {
		cn.infoHits++
		ri := cn.req.Info
		info = &ri
	})
	return
}

// UserData implements the [native.Connection] interface.
func (l *Library) UserData(c native.Conn) (ud any) {
	l.with(c, func(cn *connection) {
		if s, ok := l.servers[cn.ctx]; ok {
			ud = s.userData
		}
	})
	return
}

// ReplyStatus implements the [native.Connection] interface.
func (l *Library) ReplyStatus(c native.Conn) (status int) {
	l.with(c, func(cn *connection) {
		status = cn.req.ReplyStatus
	})
	return
}

// LogMessage implements the [native.Connection] interface.
func (l *Library) LogMessage(c native.Conn) (msg string) {
	l.with(c, func(cn *connection) {
		msg = cn.req.LogMessage
	})
	return
}

// SSLContext implements the [native.Connection] interface.
func (l *Library) SSLContext(c native.Conn) (ssl any) {
	l.with(c, func(cn *connection) {
		ssl = cn.req.SSLContext
	})
	return
}

// Var implements the [native.Connection] interface.
func (l *Library) Var(data []byte, name string, dst []byte) int {
	return formvar.Var(data, name, dst)
}

// Cookie implements the [native.Connection] interface.
func (l *Library) Cookie(header, name string, dst []byte) int {
	return formvar.Cookie(header, name, dst)
}

// Read implements the [native.Connection] interface.
func (l *Library) Read(c native.Conn, p []byte) (n int) {
	ok := l.with(c, func(cn *connection) {
		n, _ = cn.body.Read(p)
	})
	if !ok {
		return -1
	}
	return n
}

// Write implements the [native.Connection] interface.
func (l *Library) Write(c native.Conn, p []byte) (n int) {
	ok := l.with(c, func(cn *connection) {
		if cn.req.WriteLimit > 0 && len(p) > cn.req.WriteLimit {
			p = p[:cn.req.WriteLimit]
		}
		n, _ = cn.out.Write(p)
	})
	if !ok {
		return -1
	}
	return n
}

// Printf implements the [native.Connection] interface.
func (l *Library) Printf(c native.Conn, format string, args ...any) int {
	return l.Write(c, []byte(cfmt.Sprintf(format, args...)))
}

// SendFile implements the [native.Connection] interface.
func (l *Library) SendFile(c native.Conn, path string) {
	l.with(c, func(cn *connection) {
		cn.files = append(cn.files, path)
	})
}

// WebsocketOpcode implements the [native.Connection] interface.
func (l *Library) WebsocketOpcode(c native.Conn) (op int) {
	l.with(c, func(cn *connection) {
		op = cn.req.WebsocketOpcode
	})
	return
}

// WebsocketWrite implements the [native.Connection] interface.
func (l *Library) WebsocketWrite(c native.Conn, opcode int, data []byte) (n int) {
	ok := l.with(c, func(cn *connection) {
		cn.frames = append(cn.frames, Frame{Opcode: opcode, Data: bytes.Clone(data)})
		n = len(data)
	})
	if !ok {
		return -1
	}
	return n
}

// NewRequest builds a request info from a method, a URI with an optional
// query string and alternating header names and values.
func NewRequest(method, uri string, headers ...string) native.RequestInfo {
	path, query, _ := strings.Cut(uri, "?")
	ri := native.RequestInfo{
		Method:      method,
		URI:         path,
		HTTPVersion: "1.1",
		QueryString: query,
		RemoteAddr:  "127.0.0.1",
		RemotePort:  50000,
	}
	for i := 0; i+1 < len(headers); i += 2 {
		ri.AddHeader(headers[i], headers[i+1])
	}
	return ri
}
