// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"fmt"
	"mime"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/option"
)

// Option names understood by the engine.
const (
	OptListeningPorts         = "listening_ports"
	OptDocumentRoot           = "document_root"
	OptIndexFiles             = "index_files"
	OptEnableDirectoryListing = "enable_directory_listing"
	OptNumThreads             = "num_threads"
	OptRequestTimeoutMs       = "request_timeout_ms"
	OptEnableKeepAlive        = "enable_keep_alive"
	OptErrorLogFile           = "error_log_file"
	OptAccessLogFile          = "access_log_file"
	OptSSLCertificate         = "ssl_certificate"
	OptExtraMimeTypes         = "extra_mime_types"
)

var specs = []native.OptionSpec{
	{Name: OptListeningPorts, Default: "8080", HasDefault: true},
	{Name: OptDocumentRoot, Default: ".", HasDefault: true},
	{Name: OptIndexFiles, Default: "index.html,index.htm", HasDefault: true},
	{Name: OptEnableDirectoryListing, Default: "yes", HasDefault: true},
	{Name: OptNumThreads, Default: "20", HasDefault: true},
	{Name: OptRequestTimeoutMs, Default: "30000", HasDefault: true},
	{Name: OptEnableKeepAlive, Default: "no", HasDefault: true},
	{Name: OptErrorLogFile},
	{Name: OptAccessLogFile},
	{Name: OptSSLCertificate},
	{Name: OptExtraMimeTypes},
}

// startOnly options are consumed while starting and cannot be changed
// on a running server.
var startOnly = map[string]bool{
	OptListeningPorts: true,
	OptNumThreads:     true,
	OptSSLCertificate: true,
}

func knownOption(name string) bool {
	for _, s := range specs {
		if s.Name == name {
			return true
		}
	}
	return false
}

// UnknownOptionError is logged when Start is given an option name the
// engine does not know.
type UnknownOptionError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option: %s", e.Name)
}

// InvalidOptionError is logged when an option value cannot be parsed.
type InvalidOptionError struct {
	Name  string
	Value string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidOptionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("invalid value for %s: %q", e.Name, e.Value)
	}
	return fmt.Sprintf("invalid value for %s: %q: %s", e.Name, e.Value, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidOptionError) Unwrap() error {
	return e.Cause
}

// settings is the live option table of one running server.
type settings struct {
	mu     sync.RWMutex
	values option.Table
}

func newSettings(given option.Table) (*settings, error) {
	values := make(option.Table, len(specs))
	for _, s := range specs {
		values[s.Name] = s.Default
	}
	for name, value := range given {
		if !knownOption(name) {
			return nil, UnknownOptionError{Name: name}
		}
		if err := validate(name, value); err != nil {
			return nil, err
		}
		values[name] = value
	}
	return &settings{values: values}, nil
}

func validate(name, value string) error {
	switch name {
	case OptNumThreads:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return InvalidOptionError{Name: name, Value: value, Cause: err}
		}
	case OptRequestTimeoutMs:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Name: name, Value: value, Cause: err}
		}
	case OptEnableDirectoryListing, OptEnableKeepAlive:
		if value != "yes" && value != "no" {
			return InvalidOptionError{Name: name, Value: value}
		}
	case OptListeningPorts:
		_, err := parsePorts(value)
		if err != nil {
			return err
		}
	case OptExtraMimeTypes:
		_, err := parseMimeTypes(value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *settings) get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name]
}

func (s *settings) set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *settings) enabled(name string) bool {
	return s.get(name) == "yes"
}

func (s *settings) requestTimeout() time.Duration {
	ms, _ := strconv.Atoi(s.get(OptRequestTimeoutMs))
	return time.Duration(ms) * time.Millisecond
}

func (s *settings) indexFiles() []string {
	return splitList(s.get(OptIndexFiles))
}

// mimeType resolves the content type of a file by extension, consulting
// extra_mime_types before the system table.
func (s *settings) mimeType(name string) string {
	ext := strings.ToLower(name[strings.LastIndexByte(name, '.')+1:])
	if extra, err := parseMimeTypes(s.get(OptExtraMimeTypes)); err == nil {
		if t, ok := extra["."+ext]; ok {
			return t
		}
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseMimeTypes parses ".ext1=type1,.ext2=type2".
func parseMimeTypes(s string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range splitList(s) {
		ext, typ, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(ext, ".") || typ == "" {
			return nil, InvalidOptionError{Name: OptExtraMimeTypes, Value: pair}
		}
		m[strings.ToLower(ext)] = typ
	}
	return m, nil
}

type port struct {
	addr string
	tls  bool
}

// parsePorts parses a comma separated list of "[ip:]port[s]" entries,
// where the "s" suffix marks a TLS port.
func parsePorts(s string) ([]port, error) {
	entries := splitList(s)
	if len(entries) == 0 {
		return nil, InvalidOptionError{Name: OptListeningPorts, Value: s}
	}

	ports := make([]port, 0, len(entries))
	for _, e := range entries {
		p := port{addr: e}
		if strings.HasSuffix(e, "s") {
			p.addr, p.tls = strings.TrimSuffix(e, "s"), true
		}
		if !strings.Contains(p.addr, ":") {
			p.addr = ":" + p.addr
		}
		_, portStr, err := net.SplitHostPort(p.addr)
		if err != nil {
			return nil, InvalidOptionError{Name: OptListeningPorts, Value: e, Cause: err}
		}
		if n, err := strconv.Atoi(portStr); err != nil || n < 0 || n > 65535 {
			return nil, InvalidOptionError{Name: OptListeningPorts, Value: e, Cause: err}
		}
		ports = append(ports, p)
	}
	return ports, nil
}
