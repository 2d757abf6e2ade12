// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package callback keeps the trampolines handed to a native server alive
// for as long as the server may call them.
package callback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/z5labs/mgbridge/native"
)

// Token identifies a registered trampoline.
type Token uint64

// ErrNotSealed is returned by [Registry.ReleaseAll] until a call to
// [Registry.Seal] has completed.
var ErrNotSealed = errors.New("callback: registry has not been sealed and drained")

// Registry owns trampolines on behalf of a native server. Every trampoline
// handed out by [Registry.Register] is gated: once the registry is sealed
// the gate refuses new invocations with [native.StatusError], and the
// underlying trampoline can only be released after in-flight invocations
// have returned.
//
// The zero value is not usable, use [New].
type Registry struct {
	mu       sync.Mutex
	entries  map[Token]native.Trampoline
	next     Token
	inflight int
	sealed   bool
	drained  bool
	idle     chan struct{}

	rejected atomic.Uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Token]native.Trampoline),
		idle:    make(chan struct{}),
	}
}

// Register stores t and returns the gated trampoline to pass to native
// code. The returned function is stable for the lifetime of the registry.
func (r *Registry) Register(t native.Trampoline) (Token, native.Trampoline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	tok := r.next
	if !r.sealed {
		r.entries[tok] = t
	}

	gated := func(code int32, c native.Conn, info *native.RequestInfo) native.Status {
		target, ok := r.enter(tok)
		if !ok {
			r.rejected.Add(1)
			return native.StatusError
		}
		defer r.leave()

		return target(code, c, info)
	}
	return tok, gated
}

func (r *Registry) enter(tok Token) (native.Trampoline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, false
	}
	t, ok := r.entries[tok]
	if !ok {
		return nil, false
	}
	r.inflight++
	return t, true
}

func (r *Registry) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inflight--
	if r.sealed && r.inflight == 0 {
		r.markDrained()
	}
}

// must hold r.mu
func (r *Registry) markDrained() {
	if r.drained {
		return
	}
	r.drained = true
	close(r.idle)
}

// Seal stops admitting new invocations and waits until every in-flight
// invocation has returned or ctx is done. Seal may be called again after
// a context error to keep waiting.
func (r *Registry) Seal(ctx context.Context) error {
	r.mu.Lock()
	r.sealed = true
	if r.inflight == 0 {
		r.markDrained()
	}
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseAll drops every registered trampoline. It fails with
// [ErrNotSealed] unless the registry is sealed and drained.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.drained {
		return ErrNotSealed
	}
	clear(r.entries)
	return nil
}

// Sealed reports whether [Registry.Seal] has been called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Len returns the number of trampolines still held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// InFlight returns the number of invocations currently running.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// Rejected counts invocations refused because the registry was sealed
// or the trampoline already released.
func (r *Registry) Rejected() uint64 {
	return r.rejected.Load()
}
