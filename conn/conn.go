// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package conn provides a bounds checked view over one live native
// connection.
package conn

import (
	"errors"
	"io"
	"sync"

	"github.com/z5labs/mgbridge/internal/formvar"
	"github.com/z5labs/mgbridge/native"
)

var (
	// ErrNotFound reports an absent variable or cookie. It is an ordinary
	// outcome, not a failure.
	ErrNotFound = errors.New("conn: not found")

	// ErrBufferTooSmall reports that a decoded value did not fit the
	// destination buffer. Callers may retry with a larger buffer.
	ErrBufferTooSmall = errors.New("conn: buffer too small")

	// ErrExpired is returned by every method of a [View] once the event
	// which created it has returned.
	ErrExpired = errors.New("conn: view used after its event returned")

	// ErrWriteFailed is returned when the native server reports a failed
	// formatted write.
	ErrWriteFailed = errors.New("conn: native write failed")
)

// View exposes one native connection for the duration of a single event.
// A View is safe for concurrent use, but I/O calls are not idempotent:
// each one consumes input or produces output on the connection.
type View struct {
	lib native.Connection
	c   native.Conn

	// life is read locked around every native call so that Expire
	// cannot return while a call is still running.
	life    sync.RWMutex
	expired bool

	infoOnce sync.Once
	info     native.RequestInfo

	userDataOnce sync.Once
	userData     any

	replyOnce   sync.Once
	replyStatus int

	logOnce sync.Once
	logMsg  string

	sslOnce sync.Once
	ssl     any

	readMu sync.Mutex
	eof    bool
}

// New returns a View over c. A non-nil info is used as the request info
// instead of asking the native server for it.
func New(lib native.Connection, c native.Conn, info *native.RequestInfo) *View {
	v := &View{
		lib: lib,
		c:   c,
	}
	if info != nil {
		v.infoOnce.Do(func() {
			v.info = *info
		})
	}
	return v
}

// Expire invalidates the view. It waits for running native calls made
// through the view to return.
func (v *View) Expire() {
	v.life.Lock()
	defer v.life.Unlock()
	v.expired = true
}

// Expired reports whether [View.Expire] has been called.
func (v *View) Expired() bool {
	v.life.RLock()
	defer v.life.RUnlock()
	return v.expired
}

// Conn returns the native handle the view is bound to.
func (v *View) Conn() native.Conn {
	return v.c
}

func (v *View) enter() bool {
	v.life.RLock()
	if v.expired {
		v.life.RUnlock()
		return false
	}
	return true
}

func (v *View) exit() {
	v.life.RUnlock()
}

// Header looks up a request header. It reports false both for absent
// headers and on an expired view; use [View.LookupHeader] to tell the
// two apart.
func (v *View) Header(name string) (string, bool) {
	value, err := v.LookupHeader(name)
	return value, err == nil
}

// LookupHeader looks up a request header. It returns [ErrNotFound] for an
// absent header and [ErrExpired] once the event has returned.
func (v *View) LookupHeader(name string) (string, error) {
	if !v.enter() {
		return "", ErrExpired
	}
	defer v.exit()

	value, ok := v.lib.Header(v.c, name)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Headers returns a copy of the request headers, or nil on an expired
// view. [View.HeaderList] reports the expiry instead.
func (v *View) Headers() []native.Header {
	hs, _ := v.HeaderList()
	return hs
}

// HeaderList returns a copy of the request headers.
func (v *View) HeaderList() ([]native.Header, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return nil, err
	}
	hs := info.HeaderSlice()
	out := make([]native.Header, len(hs))
	copy(out, hs)
	return out, nil
}

// RequestInfo returns a copy of the request info. It is fetched from the
// native server at most once per view.
func (v *View) RequestInfo() (native.RequestInfo, error) {
	if !v.enter() {
		return native.RequestInfo{}, ErrExpired
	}
	defer v.exit()

	v.infoOnce.Do(func() {
		if ri := v.lib.RequestInfo(v.c); ri != nil {
			v.info = *ri
		}
	})
	return v.info, nil
}

// UserData returns the value given to the native server at start.
func (v *View) UserData() (any, error) {
	if !v.enter() {
		return nil, ErrExpired
	}
	defer v.exit()

	v.userDataOnce.Do(func() {
		v.userData = v.lib.UserData(v.c)
	})
	return v.userData, nil
}

// ReplyStatus returns the HTTP status of the reply, which is what error
// events carry.
func (v *View) ReplyStatus() (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	v.replyOnce.Do(func() {
		v.replyStatus = v.lib.ReplyStatus(v.c)
	})
	return v.replyStatus, nil
}

// LogMessage returns the message of a log event.
func (v *View) LogMessage() (string, error) {
	if !v.enter() {
		return "", ErrExpired
	}
	defer v.exit()

	v.logOnce.Do(func() {
		v.logMsg = v.lib.LogMessage(v.c)
	})
	return v.logMsg, nil
}

// SSLContext returns the native TLS state offered during SSL init events.
func (v *View) SSLContext() (any, error) {
	if !v.enter() {
		return nil, ErrExpired
	}
	defer v.exit()

	v.sslOnce.Do(func() {
		v.ssl = v.lib.SSLContext(v.c)
	})
	return v.ssl, nil
}

// Variable decodes name from a form encoded source such as a query
// string or a request body. The decode buffer is len(source) bytes,
// which always holds a decoded value since decoding never grows input.
func (v *View) Variable(source []byte, name string) (string, error) {
	if len(source) == 0 {
		return "", ErrNotFound
	}
	dst := make([]byte, len(source))
	n, err := v.VariableInto(source, name, dst)
	if err != nil {
		return "", err
	}
	return string(dst[:n]), nil
}

// VariableInto is like [View.Variable] but decodes into dst, so callers
// can retry with a larger buffer after [ErrBufferTooSmall].
func (v *View) VariableInto(source []byte, name string, dst []byte) (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	return decodeResult(v.lib.Var(source, name, dst), len(dst))
}

// QueryVariable decodes name from the request query string.
func (v *View) QueryVariable(name string) (string, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return "", err
	}
	return v.Variable([]byte(info.QueryString), name)
}

// Cookie returns the value of the named cookie from the Cookie header.
func (v *View) Cookie(name string) (string, error) {
	header, ok := v.Header("Cookie")
	if !ok {
		if v.Expired() {
			return "", ErrExpired
		}
		return "", ErrNotFound
	}
	if !v.enter() {
		return "", ErrExpired
	}
	defer v.exit()

	dst := make([]byte, len(header))
	n, err := decodeResult(v.lib.Cookie(header, name, dst), len(dst))
	if err != nil {
		return "", err
	}
	return string(dst[:n]), nil
}

func decodeResult(n, size int) (int, error) {
	switch {
	case n == formvar.NotFound:
		return 0, ErrNotFound
	case n < 0:
		return 0, ErrBufferTooSmall
	case n > size:
		return size, nil
	default:
		return n, nil
	}
}

// Read implements [io.Reader] over the request body. Once the native
// server reports end of stream every later call returns [io.EOF]
// without touching the connection.
func (v *View) Read(p []byte) (int, error) {
	v.readMu.Lock()
	defer v.readMu.Unlock()

	if v.eof {
		return 0, io.EOF
	}
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	if len(p) == 0 {
		return 0, nil
	}
	n := v.lib.Read(v.c, p)
	if n <= 0 {
		v.eof = true
		return 0, io.EOF
	}
	if n > len(p) {
		n = len(p)
	}
	return n, nil
}

// Write implements [io.Writer]. A short native write is reported with
// the real byte count and [io.ErrShortWrite].
func (v *View) Write(p []byte) (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	return shortWrite(v.lib.Write(v.c, p), len(p))
}

// Printf writes formatted output using C conversion specifiers such as
// %s, %d, %lu and %x. Go verbs like %v are not understood.
func (v *View) Printf(format string, args ...any) (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	n := v.lib.Printf(v.c, format, args...)
	if n < 0 {
		return 0, ErrWriteFailed
	}
	return n, nil
}

// SendFile hands delivery of the file at path to the native server.
func (v *View) SendFile(path string) error {
	if !v.enter() {
		return ErrExpired
	}
	defer v.exit()

	v.lib.SendFile(v.c, path)
	return nil
}

// WebsocketOpcode returns the opcode of the frame delivered with a
// websocket message event.
func (v *View) WebsocketOpcode() (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	return v.lib.WebsocketOpcode(v.c), nil
}

// WebsocketWrite sends one websocket frame.
func (v *View) WebsocketWrite(opcode int, data []byte) (int, error) {
	if !v.enter() {
		return 0, ErrExpired
	}
	defer v.exit()

	return shortWrite(v.lib.WebsocketWrite(v.c, opcode, data), len(data))
}

func shortWrite(n, want int) (int, error) {
	if n < 0 {
		n = 0
	}
	if n < want {
		return n, io.ErrShortWrite
	}
	return want, nil
}
