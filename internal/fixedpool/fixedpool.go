// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of long lived tasks as one unit.
package fixedpool

import (
	"context"

	"github.com/z5labs/mgbridge/internal/try"

	"golang.org/x/sync/errgroup"
)

// Task is one member of the pool. It should return once ctx is done.
type Task func(context.Context) error

// Wait runs every task and blocks until all have returned. The first
// task to fail, or panic, cancels the context given to the others and
// its error is returned.
func Wait(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() (err error) {
			defer try.Recover(&err)
			return task(gctx)
		})
	}
	return g.Wait()
}
