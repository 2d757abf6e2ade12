// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package event defines the events a native server forwards through its
// single dispatch entry point, along with the versioned code tables used
// to decode them.
package event

import (
	"strconv"
	"strings"
)

// Type identifies the kind of a native event.
type Type int

// The zero value is not a valid event.
const (
	Unknown Type = iota
	NewRequest
	RequestComplete
	HttpError
	EventLog
	InitSsl
	WebsocketConnect
	WebsocketReady
	WebsocketMessage
	WebsocketClose
)

var typeNames = [...]string{
	Unknown:          "unknown",
	NewRequest:       "new_request",
	RequestComplete:  "request_complete",
	HttpError:        "http_error",
	EventLog:         "event_log",
	InitSsl:          "init_ssl",
	WebsocketConnect: "websocket_connect",
	WebsocketReady:   "websocket_ready",
	WebsocketMessage: "websocket_message",
	WebsocketClose:   "websocket_close",
}

// String implements the [fmt.Stringer] interface.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

// Websocket reports whether t belongs to the websocket lifecycle.
func (t Type) Websocket() bool {
	return t >= WebsocketConnect && t <= WebsocketClose
}

// Table maps wire codes, as forwarded by a particular native revision,
// to event types. Tables are immutable once built.
type Table struct {
	name   string
	byCode map[int32]Type
	byType map[Type]int32
}

// NewTable builds a Table from the given code assignments. Duplicate codes
// codes panic.
func NewTable(name string, codes map[Type]int32) Table {
	t := Table{
		name:   name,
		byCode: make(map[int32]Type, len(codes)),
		byType: make(map[Type]int32, len(codes)),
	}
	for typ, code := range codes {
		if typ == Unknown {
			panic("event: cannot assign a code to the unknown event type")
		}
		if prev, ok := t.byCode[code]; ok {
			panic("event: code " + strconv.Itoa(int(code)) + " assigned to both " + prev.String() + " and " + typ.String())
		}
		t.byCode[code] = typ
		t.byType[typ] = code
	}
	return t
}

// Name returns the revision name of the table.
func (t Table) Name() string {
	return t.name
}

// Lookup decodes a wire code.
func (t Table) Lookup(code int32) (Type, bool) {
	typ, ok := t.byCode[code]
	return typ, ok
}

// Code encodes an event type for this revision. Not every revision
// supports every event type.
func (t Table) Code(typ Type) (int32, bool) {
	code, ok := t.byType[typ]
	return code, ok
}

// Len returns the number of events known to the table.
func (t Table) Len() int {
	return len(t.byCode)
}

// Latest is the numeric event protocol spoken by current native servers.
var Latest = NewTable("v4", map[Type]int32{
	NewRequest:       0,
	RequestComplete:  1,
	HttpError:        2,
	EventLog:         3,
	InitSsl:          4,
	WebsocketConnect: 5,
	WebsocketReady:   6,
	WebsocketMessage: 7,
	WebsocketClose:   8,
})

// Legacy is the smaller event set of 3.x native servers, which also hand
// the request info to the callback explicitly.
var Legacy = NewTable("v3", map[Type]int32{
	NewRequest:      0,
	HttpError:       1,
	EventLog:        2,
	InitSsl:         3,
	RequestComplete: 4,
})

// ForVersion returns the code table matching a native version string such
// as "3.1" or "4.0". Unparseable versions get the latest table.
func ForVersion(version string) Table {
	major, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return Latest
	}
	if n <= 3 {
		return Legacy
	}
	return Latest
}
