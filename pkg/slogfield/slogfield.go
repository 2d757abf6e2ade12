// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides the slog attributes used across the bridge
// so that field names stay consistent between packages.
package slogfield

import (
	"log/slog"
	"time"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Strings returns an slog.Attr for a slice of strings.
func Strings(key string, values []string) slog.Attr {
	return slog.Any(key, values)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Int64 returns an slog.Attr for a int64.
func Int64(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// Uint64 returns an slog.Attr for a uint64.
func Uint64(key string, n uint64) slog.Attr {
	return slog.Uint64(key, n)
}

// Event returns the event type attribute.
func Event(t event.Type) slog.Attr {
	return slog.String("event", t.String())
}

// Code returns the raw wire code of an event.
func Code(code int32) slog.Attr {
	return slog.Int64("event_code", int64(code))
}

// Protocol returns the name of the event code table in use.
func Protocol(name string) slog.Attr {
	return slog.String("protocol", name)
}

// Conn returns the native connection handle attribute.
func Conn(c native.Conn) slog.Attr {
	return slog.Uint64("conn", uint64(c))
}

// ConnID returns the log identifier of a connection.
func ConnID(id string) slog.Attr {
	return slog.String("conn_id", id)
}

// Status returns the native status attribute.
func Status(s native.Status) slog.Attr {
	return slog.String("status", s.String())
}

// Option groups an option name and value.
func Option(name, value string) slog.Attr {
	return slog.Group("option",
		slog.String("name", name),
		slog.String("value", value),
	)
}

// Method returns the HTTP method attribute.
func Method(m string) slog.Attr {
	return slog.String("method", m)
}

// URI returns the request URI attribute.
func URI(uri string) slog.Attr {
	return slog.String("uri", uri)
}

// Remote returns the remote peer address.
func Remote(addr string, port int) slog.Attr {
	return slog.Group("remote",
		slog.String("addr", addr),
		slog.Int("port", port),
	)
}
