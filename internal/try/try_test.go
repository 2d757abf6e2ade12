// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package try

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handle(prior error, fault any) (err error) {
	defer Recover(&err)
	err = prior
	if fault != nil {
		panic(fault)
	}
	return err
}

func TestRecover(t *testing.T) {
	t.Run("will turn a handler panic into a PanicError", func(t *testing.T) {
		err := handle(nil, "nil map write")

		var perr PanicError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "nil map write", perr.Value)
		assert.Contains(t, string(perr.Stack), "try.handle")
		assert.Nil(t, perr.Unwrap())
	})

	t.Run("will keep an error returned before the panic", func(t *testing.T) {
		returned := errors.New("bad request body")
		fault := errors.New("index out of range")

		err := handle(returned, fault)

		assert.ErrorIs(t, err, returned)
		assert.ErrorIs(t, err, fault)
	})

	t.Run("will leave the result alone without a panic", func(t *testing.T) {
		returned := errors.New("bad request body")

		assert.NoError(t, handle(nil, nil))
		assert.Equal(t, returned, handle(returned, nil))
	})
}

type failingCloser struct {
	io.Reader
	err error
}

func (c failingCloser) Close() error {
	return c.err
}

func readAll(r io.Reader) (err error) {
	defer Close(&err, r)
	_, err = io.ReadAll(r)
	return err
}

func TestClose(t *testing.T) {
	t.Run("will report a failed close as a CloseError", func(t *testing.T) {
		closeErr := errors.New("file already closed")

		err := readAll(failingCloser{Reader: strings.NewReader("a: 1"), err: closeErr})

		var cerr CloseError
		require.ErrorAs(t, err, &cerr)
		assert.ErrorIs(t, err, closeErr)
	})

	t.Run("will ignore readers which are not closers", func(t *testing.T) {
		assert.NoError(t, readAll(strings.NewReader("a: 1")))
	})
}
