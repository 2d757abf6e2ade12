// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle collects the actions a process must take once its
// servers have stopped, such as flushing telemetry.
package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// Hook is an action run at shutdown.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Context holds registered shutdown hooks. The zero value is ready to use.
type Context struct {
	mu    sync.Mutex
	hooks []Hook
	ran   bool
}

// OnShutdown registers a hook. Hooks run in reverse registration order,
// so a resource registered after its dependencies is released first.
func (c *Context) OnShutdown(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Shutdown runs every hook once, even when some fail, and joins their
// errors. Later calls do nothing.
func (c *Context) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil
	}
	c.ran = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		err := hooks[i].Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type key struct{}

// NewContext returns a child of parent carrying c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, key{}, c)
}

// FromContext extracts the [Context] stored by [NewContext].
func FromContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(key{}).(*Context)
	return lc, ok
}
