// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package slogfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, attrs ...slog.Attr) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	log.LogAttrs(context.Background(), slog.LevelInfo, "test", attrs...)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestJsonHandler(t *testing.T) {
	testCases := []struct {
		Name   string
		Attrs  []slog.Attr
		Expect map[string]any
	}{
		{
			Name:   "error",
			Attrs:  []slog.Attr{Error(errors.New("hello, world"))},
			Expect: map[string]any{"error": "hello, world"},
		},
		{
			Name:   "duration",
			Attrs:  []slog.Attr{Duration("value", 5*time.Second)},
			Expect: map[string]any{"value": float64(5 * time.Second)},
		},
		{
			Name:   "string and strings",
			Attrs:  []slog.Attr{String("value", "world"), Strings("values", []string{"a", "b"})},
			Expect: map[string]any{"value": "world", "values": []any{"a", "b"}},
		},
		{
			Name:   "event and code",
			Attrs:  []slog.Attr{Event(event.HttpError), Code(2), Protocol("v4")},
			Expect: map[string]any{"event": "http_error", "event_code": float64(2), "protocol": "v4"},
		},
		{
			Name:   "conn and status",
			Attrs:  []slog.Attr{Conn(7), ConnID("abc"), Status(native.StatusSuccess)},
			Expect: map[string]any{"conn": float64(7), "conn_id": "abc", "status": "success"},
		},
		{
			Name:   "option",
			Attrs:  []slog.Attr{Option("num_threads", "4")},
			Expect: map[string]any{"option": map[string]any{"name": "num_threads", "value": "4"}},
		},
		{
			Name:   "request fields",
			Attrs:  []slog.Attr{Method("GET"), URI("/show"), Remote("127.0.0.1", 5000)},
			Expect: map[string]any{"method": "GET", "uri": "/show", "remote": map[string]any{"addr": "127.0.0.1", "port": float64(5000)}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			m := record(t, testCase.Attrs...)
			for k, v := range testCase.Expect {
				assert.Equal(t, v, m[k], k)
			}
		})
	}
}
