// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fixedpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/mgbridge/internal/try"

	"github.com/stretchr/testify/require"
)

func TestWait(t *testing.T) {
	t.Run("will return nil", func(t *testing.T) {
		t.Run("if every task succeeds", func(t *testing.T) {
			var n atomic.Int32
			task := func(context.Context) error {
				n.Add(1)
				return nil
			}

			err := Wait(context.Background(), task, task, task)
			require.NoError(t, err)
			require.Equal(t, int32(3), n.Load())
		})

		t.Run("if there are no tasks", func(t *testing.T) {
			require.NoError(t, Wait(context.Background()))
		})
	})

	t.Run("will cancel the other tasks", func(t *testing.T) {
		t.Run("if one task fails", func(t *testing.T) {
			failure := errors.New("failed")
			var cancelled atomic.Bool

			err := Wait(
				context.Background(),
				func(context.Context) error {
					return failure
				},
				func(ctx context.Context) error {
					select {
					case <-ctx.Done():
						cancelled.Store(true)
					case <-time.After(5 * time.Second):
					}
					return nil
				},
			)
			require.ErrorIs(t, err, failure)
			require.True(t, cancelled.Load())
		})

		t.Run("if one task panics", func(t *testing.T) {
			err := Wait(
				context.Background(),
				func(context.Context) error {
					panic("boom")
				},
				func(ctx context.Context) error {
					<-ctx.Done()
					return nil
				},
			)

			var perr try.PanicError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, "boom", perr.Value)
		})
	})

	t.Run("will stop every task", func(t *testing.T) {
		t.Run("if the parent context is cancelled", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := Wait(ctx, func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})
			require.NoError(t, err)
		})
	})
}
