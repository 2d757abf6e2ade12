// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mgbridge

import (
	"errors"
	"fmt"

	"github.com/z5labs/mgbridge/native"
)

// ErrAlreadyStopped is returned by every [Server] method once the server
// has been stopped.
var ErrAlreadyStopped = errors.New("mgbridge: server already stopped")

// StartFailureError is returned by [Start] when the native server reports
// a null context, e.g. because a port is in use or an option is unknown.
type StartFailureError struct {
	Version string
}

// Error implements the [builtin.error] interface.
func (e StartFailureError) Error() string {
	return fmt.Sprintf("native server %s failed to start: check listening ports and option names", e.Version)
}

// ValidationFailureError is returned when an option name is not known to
// the native server or the native server rejects a value.
type ValidationFailureError struct {
	Name  string
	Value string

	// Status is the native result. It is [native.StatusNotFound] for
	// names outside the known option table.
	Status native.Status
}

// Error implements the [builtin.error] interface.
func (e ValidationFailureError) Error() string {
	if e.Status == native.StatusNotFound {
		return fmt.Sprintf("unknown option: %s", e.Name)
	}
	return fmt.Sprintf("invalid value for option %s: %q", e.Name, e.Value)
}

// DrainError is returned by [Server.Stop] when the context ended before
// in-flight callbacks returned. The server is still stopped, and the
// callbacks are released as soon as they drain.
type DrainError struct {
	InFlight int
	Cause    error
}

// Error implements the [builtin.error] interface.
func (e DrainError) Error() string {
	return fmt.Sprintf("stopped with %d callbacks still running: %s", e.InFlight, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e DrainError) Unwrap() error {
	return e.Cause
}

// ConfigReadError
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}
