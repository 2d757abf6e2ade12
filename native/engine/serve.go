// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/pkg/slogfield"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func (s *server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		// Go blocks while num_threads workers are busy, which leaves
		// further clients queued in the listen backlog.
		s.workers.Go(func() error {
			s.serveConn(nc)
			return nil
		})
	}
}

func unblock(nc net.Conn) {
	nc.SetDeadline(time.Now())
}

func (s *server) serveConn(nc net.Conn) {
	defer nc.Close()
	if !s.track(nc, true) {
		return
	}
	defer s.track(nc, false)

	id := uuid.New().String()
	log := s.log.With(slogfield.ConnID(id))
	log.Debug("accepted connection", slogfield.String("remote", nc.RemoteAddr().String()))

	br := bufio.NewReader(nc)
	for {
		if !s.armDeadline(nc, s.settings.requestTimeout()) {
			return
		}
		req, err := http.ReadRequest(br)
		if err != nil {
			s.readFailed(nc, id, err)
			return
		}
		s.armDeadline(nc, 0)

		if !s.handleRequest(id, nc, br, req) || !s.settings.enabled(OptEnableKeepAlive) || s.isClosing() {
			return
		}
	}
}

func (s *server) readFailed(nc net.Conn, id string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || s.isClosing() {
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}

	s.log.Debug("malformed request", slogfield.ConnID(id), slogfield.Error(err))
	body := fmt.Sprintf("Error %d: %s", http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
	fmt.Fprintf(nc, "HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
}

// handleRequest serves one request and reports whether the connection
// can be reused.
func (s *server) handleRequest(id string, nc net.Conn, br *bufio.Reader, req *http.Request) bool {
	c := newConnection(s, id, nc, br, req)
	s.engine.register(c)
	defer s.engine.unregister(c)
	defer req.Body.Close()

	start := time.Now()
	if s.isClosing() {
		s.unavailable(c)
		s.accessLog(c, start)
		return false
	}

	if websocket.IsWebSocketUpgrade(req) {
		s.serveWebsocket(c)
		return false
	}

	// A trampoline that was sealed while quiescing also reports the
	// request as unhandled, so closing is checked again before falling
	// back to document_root.
	switch {
	case s.fire(event.NewRequest, c):
	case s.isClosing():
		s.unavailable(c)
	default:
		s.serveStatic(c)
	}

	s.fire(event.RequestComplete, c)
	s.accessLog(c, start)

	// Skip whatever the handler left unread so the next request starts
	// at a message boundary.
	_, err := io.Copy(io.Discard, req.Body)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive && !req.Close
}

// cry reports a diagnostic for c. It goes to EventLog handlers first,
// then to error_log_file, then to the engine logger.
func (s *server) cry(c *connection, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.logMessage = msg
	c.mu.Unlock()

	if s.fire(event.EventLog, c) {
		return
	}

	path := s.settings.get(OptErrorLogFile)
	if path == "" {
		s.log.Warn(msg, slogfield.ConnID(c.id), slogfield.URI(c.info.URI))
		return
	}
	line := fmt.Sprintf(
		"[%s] [error] [client %s] %s\n",
		time.Now().Format(time.RFC1123Z),
		c.info.RemoteAddr,
		msg,
	)
	s.appendFile(path, line)
}

// accessLog writes c to access_log_file in common log format.
func (s *server) accessLog(c *connection, start time.Time) {
	path := s.settings.get(OptAccessLogFile)
	if path == "" {
		return
	}

	user := c.info.RemoteUser
	if user == "" {
		user = "-"
	}
	c.mu.Lock()
	status, sent := c.status, c.sent
	c.mu.Unlock()

	line := fmt.Sprintf(
		"%s - %s [%s] \"%s %s HTTP/%s\" %d %d\n",
		c.info.RemoteAddr,
		user,
		start.Format("02/Jan/2006:15:04:05 -0700"),
		c.info.Method,
		c.req.RequestURI,
		c.info.HTTPVersion,
		status,
		sent,
	)
	s.appendFile(path, line)
}

func (s *server) appendFile(path, line string) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Error("failed to open log file", slogfield.String("path", path), slogfield.Error(err))
		return
	}
	defer f.Close()

	_, err = io.WriteString(f, line)
	if err != nil {
		s.log.Error("failed to write log file", slogfield.String("path", path), slogfield.Error(err))
	}
}
