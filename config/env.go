// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/mgbridge/config/key"
)

// EnvSeparator splits an environment variable name into nested keys.
const EnvSeparator = "__"

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which will apply its config from the
// environment variables of the current process which start with
// prefix followed by [EnvSeparator]. The remainder of the name is
// lower cased and split on [EnvSeparator], e.g. with prefix "MGSERVE"
// the variable MGSERVE__OPTIONS__NUM_THREADS sets options.num_threads.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the Source interface.
func (src Env) Apply(store Store) error {
	want := src.prefix + EnvSeparator
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(k, want)
		if !ok {
			continue
		}
		chain := key.Split(strings.ToLower(name), EnvSeparator)
		if len(chain) == 0 {
			continue
		}
		err := store.Set(chain, v)
		if err != nil {
			return err
		}
	}
	return nil
}
