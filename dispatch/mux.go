// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dispatch

import (
	"context"
	"path"
	"strings"

	"github.com/z5labs/mgbridge/conn"
	"github.com/z5labs/mgbridge/event"
)

// Mux is a [Handler] which routes new requests by URI and HTTP error
// events by status code. Routing happens inside the handler, the
// dispatcher itself always delivers to one top-level handler.
//
// URI patterns are matched with [path.Match], so "/users/*/" matches
// "/users/joe/". Exact patterns win over wildcard ones, and earlier
// wildcard patterns win over later ones.
type Mux struct {
	exact    map[string]Handler
	patterns []route
	errors   map[int]Handler
	events   map[event.Type]Handler
}

type route struct {
	pattern string
	h       Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{
		exact:  make(map[string]Handler),
		errors: make(map[int]Handler),
		events: make(map[event.Type]Handler),
	}
}

// HandleURI routes new requests whose URI matches pattern to h.
func (m *Mux) HandleURI(pattern string, h Handler) {
	if strings.ContainsAny(pattern, "*?[") {
		m.patterns = append(m.patterns, route{pattern: pattern, h: h})
		return
	}
	m.exact[pattern] = h
}

// HandleError routes HTTP error events with the given reply status to h.
// A status of 0 catches every error without a more specific route.
func (m *Mux) HandleError(status int, h Handler) {
	m.errors[status] = h
}

// HandleEvent routes every event of type t to h. URI and error routes
// take precedence for new request and HTTP error events.
func (m *Mux) HandleEvent(t event.Type, h Handler) {
	m.events[t] = h
}

// Handle implements the [Handler] interface. Events without a route are
// reported as not handled.
func (m *Mux) Handle(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	h, err := m.route(ev, v)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	return h.Handle(ctx, ev, v)
}

func (m *Mux) route(ev event.Event, v *conn.View) (Handler, error) {
	switch ev.Type {
	case event.NewRequest:
		info, err := v.RequestInfo()
		if err != nil {
			return nil, err
		}
		if h := m.matchURI(info.URI); h != nil {
			return h, nil
		}
	case event.HttpError:
		status, err := v.ReplyStatus()
		if err != nil {
			return nil, err
		}
		if h, ok := m.errors[status]; ok {
			return h, nil
		}
		if h, ok := m.errors[0]; ok {
			return h, nil
		}
	}
	return m.events[ev.Type], nil
}

func (m *Mux) matchURI(uri string) Handler {
	if h, ok := m.exact[uri]; ok {
		return h
	}
	for _, r := range m.patterns {
		if ok, _ := path.Match(r.pattern, uri); ok {
			return r.h
		}
	}
	return nil
}
