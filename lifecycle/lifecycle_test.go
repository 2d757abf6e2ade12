// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContext_Shutdown(t *testing.T) {
	t.Run("will run hooks in reverse order", func(t *testing.T) {
		var order []string
		var lc Context
		for _, name := range []string{"telemetry", "metrics", "server"} {
			lc.OnShutdown(HookFunc(func(context.Context) error {
				order = append(order, name)
				return nil
			}))
		}

		require.NoError(t, lc.Shutdown(context.Background()))
		require.Equal(t, []string{"server", "metrics", "telemetry"}, order)
	})

	t.Run("will run every hook", func(t *testing.T) {
		t.Run("even if some fail", func(t *testing.T) {
			one := errors.New("one")
			two := errors.New("two")
			ran := 0

			var lc Context
			lc.OnShutdown(HookFunc(func(context.Context) error {
				ran++
				return one
			}))
			lc.OnShutdown(HookFunc(func(context.Context) error {
				ran++
				return nil
			}))
			lc.OnShutdown(HookFunc(func(context.Context) error {
				ran++
				return two
			}))

			err := lc.Shutdown(context.Background())
			require.ErrorIs(t, err, one)
			require.ErrorIs(t, err, two)
			require.Equal(t, 3, ran)
		})
	})

	t.Run("will only run once", func(t *testing.T) {
		ran := 0
		var lc Context
		lc.OnShutdown(HookFunc(func(context.Context) error {
			ran++
			return nil
		}))

		require.NoError(t, lc.Shutdown(context.Background()))
		require.NoError(t, lc.Shutdown(context.Background()))
		require.Equal(t, 1, ran)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("will return the stored context", func(t *testing.T) {
		lc := &Context{}
		got, ok := FromContext(NewContext(context.Background(), lc))
		require.True(t, ok)
		require.Same(t, lc, got)
	})

	t.Run("will report false", func(t *testing.T) {
		t.Run("if nothing was stored", func(t *testing.T) {
			_, ok := FromContext(context.Background())
			require.False(t, ok)
		})
	})
}
