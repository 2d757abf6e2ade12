// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/z5labs/mgbridge/event"
)

// responseWriter adapts a connection to [http.ResponseWriter] so the
// net/http file helpers and the websocket upgrader can write to it.
type responseWriter struct {
	c           *connection
	header      http.Header
	wroteHeader bool
	noBody      bool
}

func newResponseWriter(c *connection) *responseWriter {
	return &responseWriter{
		c:      c,
		header: make(http.Header),
		noBody: c.req.Method == http.MethodHead,
	}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	bodiless := code == http.StatusNotModified || code == http.StatusNoContent || code < 200
	framed := bodiless || w.header.Get("Content-Length") != ""
	if bodiless {
		w.noBody = true
	}

	w.c.mu.Lock()
	w.c.keepAlive = framed
	w.c.mu.Unlock()

	if framed && w.c.srv.settings.enabled(OptEnableKeepAlive) && !w.c.srv.isClosing() {
		w.header.Set("Connection", "keep-alive")
	} else {
		w.header.Set("Connection", "close")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	w.header.Write(&buf)
	buf.WriteString("\r\n")
	w.c.write(buf.Bytes())
	w.c.setStatus(code)

	// Bytes of the status line and headers do not count as sent body.
	w.c.mu.Lock()
	w.c.sent = 0
	w.c.mu.Unlock()
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		if w.header.Get("Content-Type") == "" {
			w.header.Set("Content-Type", http.DetectContentType(p))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.noBody {
		return len(p), nil
	}
	return w.c.write(p)
}

// Hijack implements the [http.Hijacker] interface for the websocket
// upgrader. Bytes already buffered from the client stay readable.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.c.nc, bufio.NewReadWriter(w.c.br, bufio.NewWriter(w.c.nc)), nil
}

// writeBody sends a complete response with a known length.
func (w *responseWriter) writeBody(code int, contentType string, body []byte) {
	w.header.Set("Content-Type", contentType)
	w.header.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	w.Write(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// sendError replies with an error status. HttpError handlers may write
// their own page, otherwise a plain text one is sent.
func (s *server) sendError(c *connection, code int) {
	c.setStatus(code)
	if s.fire(event.HttpError, c) {
		return
	}

	body := fmt.Sprintf("Error %d: %s", code, http.StatusText(code))
	newResponseWriter(c).writeBody(code, "text/plain; charset=utf-8", []byte(body))
}

// unavailable answers a request that arrived while the server is
// quiescing. No events fire.
func (s *server) unavailable(c *connection) {
	code := http.StatusServiceUnavailable
	c.setStatus(code)
	body := fmt.Sprintf("Error %d: %s", code, http.StatusText(code))
	newResponseWriter(c).writeBody(code, "text/plain; charset=utf-8", []byte(body))
}

// serveStatic answers a request nobody handled from document_root.
func (s *server) serveStatic(c *connection) {
	if c.req.Method != http.MethodGet && c.req.Method != http.MethodHead {
		s.sendError(c, http.StatusMethodNotAllowed)
		return
	}

	uri := path.Clean("/" + c.info.URI)
	full := filepath.Join(s.settings.get(OptDocumentRoot), filepath.FromSlash(uri))
	fi, err := os.Stat(full)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.cry(c, "stat %s: %s", full, err)
		}
		s.sendError(c, statusFor(err))
		return
	}
	if !fi.IsDir() {
		s.serveFile(c, full, fi)
		return
	}

	if !strings.HasSuffix(c.info.URI, "/") {
		w := newResponseWriter(c)
		w.header.Set("Location", c.info.URI+"/")
		w.writeBody(http.StatusMovedPermanently, "text/plain; charset=utf-8", nil)
		return
	}
	for _, index := range s.settings.indexFiles() {
		p := filepath.Join(full, index)
		ifi, err := os.Stat(p)
		if err == nil && !ifi.IsDir() {
			s.serveFile(c, p, ifi)
			return
		}
	}
	if !s.settings.enabled(OptEnableDirectoryListing) {
		s.sendError(c, http.StatusForbidden)
		return
	}
	s.listDirectory(c, full, uri)
}

func (s *server) serveFile(c *connection, name string, fi fs.FileInfo) {
	f, err := os.Open(name)
	if err != nil {
		s.cry(c, "open %s: %s", name, err)
		s.sendError(c, statusFor(err))
		return
	}
	defer f.Close()

	w := newResponseWriter(c)
	w.header.Set("Content-Type", s.settings.mimeType(fi.Name()))
	http.ServeContent(w, c.req, fi.Name(), fi.ModTime(), f)
}

func (s *server) listDirectory(c *connection, dir, uri string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.cry(c, "read dir %s: %s", dir, err)
		s.sendError(c, statusFor(err))
		return
	}

	title := html.EscapeString("Index of " + uri)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<html><head><title>%s</title></head><body><h1>%s</h1><pre>\n", title, title)
	if uri != "/" {
		buf.WriteString("<a href=\"../\">../</a>\n")
	}
	for _, entry := range entries {
		name := entry.Name()
		size := "-"
		if entry.IsDir() {
			name += "/"
		} else if info, err := entry.Info(); err == nil {
			size = strconv.FormatInt(info.Size(), 10)
		}
		href := (&url.URL{Path: name}).EscapedPath()
		fmt.Fprintf(&buf, "<a href=\"%s\">%s</a> %s\n", href, html.EscapeString(name), size)
	}
	buf.WriteString("</pre></body></html>\n")

	newResponseWriter(c).writeBody(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
