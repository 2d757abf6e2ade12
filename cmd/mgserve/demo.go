// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/z5labs/mgbridge/conn"
	"github.com/z5labs/mgbridge/dispatch"
	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/pkg/slogfield"
)

// maxFormBody bounds the POST body read by the echo handler.
const maxFormBody = 64 << 10

// demoHandler routes the demo pages. Anything it does not handle is
// served from document_root by the engine.
func demoHandler(log *slog.Logger) dispatch.Handler {
	mux := dispatch.NewMux()
	mux.HandleURI("/", dispatch.HandlerFunc(indexPage))
	mux.HandleURI("/show", dispatch.HandlerFunc(showVariable))
	mux.HandleURI("/echo", dispatch.HandlerFunc(echoForm))
	mux.HandleError(http.StatusNotFound, dispatch.HandlerFunc(notFoundPage))
	mux.HandleEvent(event.WebsocketMessage, dispatch.HandlerFunc(websocketEcho))
	mux.HandleEvent(event.EventLog, eventLogger(log))
	return mux
}

func reply(v *conn.View, status int, contentType, body string) error {
	_, err := v.Printf(
		"HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status,
		http.StatusText(status),
		contentType,
		len(body),
		body,
	)
	return err
}

func indexPage(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return false, err
	}

	var b strings.Builder
	b.WriteString("<html><body><h1>mgserve</h1><table>\n")
	row := func(name, value string) {
		b.WriteString("<tr><td>" + html.EscapeString(name) + "</td><td>" + html.EscapeString(value) + "</td></tr>\n")
	}
	row("method", info.Method)
	row("uri", info.URI)
	row("query", info.QueryString)
	row("http version", info.HTTPVersion)
	row("remote", info.RemoteAddr)
	for _, h := range v.Headers() {
		row(h.Name, h.Value)
	}
	b.WriteString("</table>\n")
	b.WriteString(`<form method="POST" action="/echo"><input name="text"><input type="submit"></form>`)
	b.WriteString("\n</body></html>\n")

	return true, reply(v, http.StatusOK, "text/html; charset=utf-8", b.String())
}

// showVariable answers /show?my_var=... with the decoded value.
func showVariable(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	value, err := v.QueryVariable("my_var")
	if errors.Is(err, conn.ErrNotFound) {
		return true, reply(v, http.StatusBadRequest, "text/plain", "my_var is required\n")
	}
	if err != nil {
		return false, err
	}
	return true, reply(v, http.StatusOK, "text/plain; charset=utf-8", value)
}

func echoForm(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return false, err
	}
	if info.Method != http.MethodPost {
		return true, reply(v, http.StatusMethodNotAllowed, "text/plain", "POST only\n")
	}

	body, err := io.ReadAll(io.LimitReader(v, maxFormBody))
	if err != nil {
		return false, err
	}
	text, err := v.Variable(body, "text")
	if errors.Is(err, conn.ErrNotFound) {
		text = ""
	} else if err != nil {
		return false, err
	}
	return true, reply(v, http.StatusOK, "text/plain; charset=utf-8", text)
}

func notFoundPage(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	info, err := v.RequestInfo()
	if err != nil {
		return false, err
	}
	body := "<html><body><h1>404</h1><p>" + html.EscapeString(info.URI) + " was not found.</p></body></html>\n"
	return true, reply(v, http.StatusNotFound, "text/html; charset=utf-8", body)
}

func websocketEcho(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
	op, err := v.WebsocketOpcode()
	if err != nil {
		return false, err
	}
	if op != native.OpText && op != native.OpBinary {
		return false, nil
	}
	data, err := io.ReadAll(v)
	if err != nil {
		return false, err
	}
	_, err = v.WebsocketWrite(op, data)
	return true, err
}

func eventLogger(log *slog.Logger) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, ev event.Event, v *conn.View) (bool, error) {
		msg, err := v.LogMessage()
		if err != nil {
			return false, err
		}
		log.WarnContext(ctx, msg, slogfield.Conn(v.Conn()))
		return true, nil
	})
}
