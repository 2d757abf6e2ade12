// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/mgbridge/internal/cfmt"
	"github.com/z5labs/mgbridge/internal/formvar"
	"github.com/z5labs/mgbridge/native"

	"github.com/gorilla/websocket"
)

// connection is the state behind one native.Conn handle. A handle lives
// for a single request, or for the whole session of a websocket.
type connection struct {
	srv    *server
	handle native.Conn

	// id names the TCP connection and is shared by every request
	// served on it.
	id  string
	nc  net.Conn
	br  *bufio.Reader
	req *http.Request

	info native.RequestInfo
	ssl  any

	// body is what Read consumes: the request body, or the payload of
	// the current websocket message.
	bodyMu sync.Mutex
	body   io.Reader

	mu         sync.Mutex
	status     int
	sent       int64
	wrote      bool
	keepAlive  bool
	logMessage string

	ws       *websocket.Conn
	wsMu     sync.Mutex
	wsOpcode int
}

func newConnection(s *server, id string, nc net.Conn, br *bufio.Reader, req *http.Request) *connection {
	_, isTLS := nc.(*tls.Conn)
	c := &connection{
		srv:  s,
		id:   id,
		nc:   nc,
		br:   br,
		req:  req,
		info: requestInfo(req, nc.RemoteAddr(), isTLS),
		body: req.Body,
	}
	if isTLS {
		c.ssl = s.tlsConfig
	}
	return c
}

// requestInfo describes req the way handlers see it. The Host header is
// listed first, the remaining headers in name order.
func requestInfo(req *http.Request, remote net.Addr, isTLS bool) native.RequestInfo {
	ri := native.RequestInfo{
		Method:      req.Method,
		URI:         req.URL.Path,
		HTTPVersion: strconv.Itoa(req.ProtoMajor) + "." + strconv.Itoa(req.ProtoMinor),
		QueryString: req.URL.RawQuery,
		IsSSL:       isTLS,
		StatusCode:  -1,
	}
	if user, _, ok := req.BasicAuth(); ok {
		ri.RemoteUser = user
	}
	if host, p, err := net.SplitHostPort(remote.String()); err == nil {
		ri.RemoteAddr = host
		ri.RemotePort, _ = strconv.Atoi(p)
	}

	if req.Host != "" {
		ri.AddHeader("Host", req.Host)
	}
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range req.Header[name] {
			ri.AddHeader(name, v)
		}
	}
	return ri
}

func (c *connection) setStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = code
	c.info.StatusCode = code
}

func (c *connection) replyStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// write sends raw bytes to the client. The first write of a response
// is sniffed for a status line so the access log reports what the
// handler answered.
func (c *connection) write(p []byte) (int, error) {
	c.mu.Lock()
	first := !c.wrote && c.sent == 0
	c.wrote = true
	c.mu.Unlock()

	if first {
		if code, ok := sniffStatus(p); ok {
			c.setStatus(code)
		}
	}
	n, err := c.nc.Write(p)

	c.mu.Lock()
	c.sent += int64(n)
	c.mu.Unlock()
	return n, err
}

func sniffStatus(p []byte) (int, bool) {
	line, _, _ := bytes.Cut(p, []byte("\r\n"))
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return 0, false
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

func (c *connection) read(p []byte) int {
	c.bodyMu.Lock()
	defer c.bodyMu.Unlock()
	if c.body == nil {
		return 0
	}
	n, err := c.body.Read(p)
	if n > 0 {
		return n
	}
	if err == nil || errors.Is(err, io.EOF) {
		return 0
	}
	return -1
}

func (c *connection) setMessage(opcode int, data []byte) {
	c.bodyMu.Lock()
	c.body = bytes.NewReader(data)
	c.bodyMu.Unlock()

	c.mu.Lock()
	c.wsOpcode = opcode
	c.mu.Unlock()
}

// Header implements the [native.Connection] interface. Names are
// matched case-insensitively.
func (e *Engine) Header(h native.Conn, name string) (string, bool) {
	c := e.conn(h)
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hdr := range c.info.HeaderSlice() {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// RequestInfo implements the [native.Connection] interface.
func (e *Engine) RequestInfo(h native.Conn) *native.RequestInfo {
	c := e.conn(h)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	ri := c.info
	c.mu.Unlock()
	return &ri
}

// UserData implements the [native.Connection] interface.
func (e *Engine) UserData(h native.Conn) any {
	c := e.conn(h)
	if c == nil {
		return nil
	}
	return c.srv.userData
}

// ReplyStatus implements the [native.Connection] interface.
func (e *Engine) ReplyStatus(h native.Conn) int {
	c := e.conn(h)
	if c == nil {
		return 0
	}
	return c.replyStatus()
}

// LogMessage implements the [native.Connection] interface.
func (e *Engine) LogMessage(h native.Conn) string {
	c := e.conn(h)
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logMessage
}

// SSLContext implements the [native.Connection] interface. It is the
// server's *tls.Config for TLS connections and during InitSsl.
func (e *Engine) SSLContext(h native.Conn) any {
	c := e.conn(h)
	if c == nil {
		return nil
	}
	return c.ssl
}

// Var implements the [native.Connection] interface.
func (e *Engine) Var(data []byte, name string, dst []byte) int {
	return formvar.Var(data, name, dst)
}

// Cookie implements the [native.Connection] interface.
func (e *Engine) Cookie(header, name string, dst []byte) int {
	return formvar.Cookie(header, name, dst)
}

// Read implements the [native.Connection] interface.
func (e *Engine) Read(h native.Conn, p []byte) int {
	c := e.conn(h)
	if c == nil {
		return -1
	}
	return c.read(p)
}

// Write implements the [native.Connection] interface. Responses written
// this way close the connection once the request completes, since the
// engine cannot tell where they end.
func (e *Engine) Write(h native.Conn, p []byte) int {
	c := e.conn(h)
	if c == nil || c.nc == nil {
		return -1
	}
	n, err := c.write(p)
	if err != nil && n == 0 {
		return -1
	}
	return n
}

// Printf implements the [native.Connection] interface.
func (e *Engine) Printf(h native.Conn, format string, args ...any) int {
	return e.Write(h, []byte(cfmt.Sprintf(format, args...)))
}

// SendFile implements the [native.Connection] interface. The file is
// served with a complete response, including range and conditional
// request handling.
func (e *Engine) SendFile(h native.Conn, path string) {
	c := e.conn(h)
	if c == nil || c.nc == nil {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		c.srv.sendError(c, statusFor(err))
		return
	}
	c.srv.serveFile(c, path, fi)
}

// WebsocketOpcode implements the [native.Connection] interface.
func (e *Engine) WebsocketOpcode(h native.Conn) int {
	c := e.conn(h)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wsOpcode
}

// WebsocketWrite implements the [native.Connection] interface. Control
// opcodes are sent as control frames and continuation frames are not
// supported.
func (e *Engine) WebsocketWrite(h native.Conn, opcode int, data []byte) int {
	c := e.conn(h)
	if c == nil || c.ws == nil {
		return -1
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	var err error
	switch opcode {
	case native.OpText, native.OpBinary:
		err = c.ws.WriteMessage(opcode, data)
	case native.OpClose, native.OpPing, native.OpPong:
		err = c.ws.WriteControl(opcode, data, time.Now().Add(writeWait))
	default:
		return -1
	}
	if err != nil {
		return -1
	}
	return len(data)
}
