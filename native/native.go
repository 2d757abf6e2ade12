// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package native describes the ABI of an embeddable, thread-per-connection
// HTTP server. Everything a bridge may call on the server, and everything
// the server may call back into, is expressed here as plain values and
// interfaces so that implementations can be swapped freely.
package native

import "strconv"

// Status is the shared result taxonomy of native calls.
type Status int32

const (
	StatusError          Status = 0
	StatusSuccess        Status = 1
	StatusNotFound       Status = 2
	StatusBufferTooSmall Status = 3
)

// String implements the [fmt.Stringer] interface.
func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusBufferTooSmall:
		return "buffer_too_small"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Context is an opaque handle to one running native server.
// The zero value is the null handle.
type Context uint64

// Conn is an opaque handle to one in-flight connection. It is only valid
// for the duration of the event call it was passed to.
type Conn uint64

// MaxHeaders bounds the header array of a [RequestInfo].
const MaxHeaders = 64

// Header is a single request header.
type Header struct {
	Name  string
	Value string
}

// RequestInfo is the native request description. It is owned by the native
// server and must not be retained past the event call it belongs to.
type RequestInfo struct {
	Method      string
	URI         string
	HTTPVersion string
	QueryString string
	RemoteUser  string
	RemoteAddr  string
	RemotePort  int
	IsSSL       bool
	StatusCode  int

	NumHeaders int
	Headers    [MaxHeaders]Header
}

// HeaderSlice returns the populated headers. The returned slice aliases
// the info so callers wanting to keep it must copy.
func (ri *RequestInfo) HeaderSlice() []Header {
	n := ri.NumHeaders
	if n < 0 {
		n = 0
	}
	if n > MaxHeaders {
		n = MaxHeaders
	}
	return ri.Headers[:n]
}

// AddHeader appends a header, silently dropping it once [MaxHeaders]
// is reached.
func (ri *RequestInfo) AddHeader(name, value string) bool {
	if ri.NumHeaders >= MaxHeaders {
		return false
	}
	ri.Headers[ri.NumHeaders] = Header{Name: name, Value: value}
	ri.NumHeaders++
	return true
}

// Trampoline is the single entry point a native server calls for every
// event. The info argument is only populated by native revisions which
// pass request info explicitly.
type Trampoline func(code int32, c Conn, info *RequestInfo) Status

// OptionSpec describes one option known to the native server.
type OptionSpec struct {
	Name    string
	Default string

	// HasDefault distinguishes an empty default from no default.
	HasDefault bool
}

// Server is the lifecycle half of the ABI.
type Server interface {
	// Version reports the native revision, e.g. "4.0".
	Version() string

	// ValidOptions lists every option name the server accepts.
	ValidOptions() []OptionSpec

	// Start launches a server. options alternates names and values and
	// is terminated by a nil entry. A zero Context reports failure.
	Start(t Trampoline, userData any, options []*string) Context

	// Stop shuts a server down and waits for its workers. Calling it twice
	// with the same handle is undefined.
	Stop(ctx Context)

	// Option returns the current value of an option, or false if the
	// option is unknown.
	Option(ctx Context, name string) (string, bool)

	// SetOption changes an option on a running server.
	SetOption(ctx Context, name, value string) Status
}

// Connection is the per-connection half of the ABI.
type Connection interface {
	Header(c Conn, name string) (string, bool)
	RequestInfo(c Conn) *RequestInfo
	UserData(c Conn) any
	ReplyStatus(c Conn) int
	LogMessage(c Conn) string
	SSLContext(c Conn) any

	// Var decodes a form encoded variable from data into dst. It returns
	// the decoded length, -1 if the variable is absent or -2 if dst is
	// too small.
	Var(data []byte, name string, dst []byte) int

	// Cookie extracts a cookie from a Cookie header value into dst. It
	// returns the length, -1 if absent, -2 if dst is empty or -3 if dst
	// is too small.
	Cookie(header, name string, dst []byte) int

	// Read reads request body bytes. It returns zero at end of stream and
	// a negative value on error.
	Read(c Conn, p []byte) int

	// Write writes raw bytes and returns how many were written.
	Write(c Conn, p []byte) int

	// Printf formats using C printf conversion specifiers.
	Printf(c Conn, format string, args ...any) int

	SendFile(c Conn, path string)

	WebsocketOpcode(c Conn) int
	WebsocketWrite(c Conn, opcode int, data []byte) int
}

// Library is a complete native server implementation.
type Library interface {
	Server
	Connection
}

// Quiescer is implemented by servers that can stop taking new work
// ahead of Stop. After Quiesce returns the server accepts no new
// connections and answers requests without consulting the trampoline,
// while requests already inside a callback run to completion.
type Quiescer interface {
	Quiesce(ctx Context)
}

// Websocket opcodes as defined by RFC 6455.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xa
)
