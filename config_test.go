// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mgbridge

import (
	"strings"
	"testing"

	"github.com/z5labs/mgbridge/config"
	"github.com/z5labs/mgbridge/option"

	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	t.Run("will decode the merged sources", func(t *testing.T) {
		var cfg struct {
			Logging struct {
				Level string `config:"level"`
			} `config:"logging"`
		}

		m, err := ReadConfig(
			&cfg,
			config.FromYaml(strings.NewReader("logging:\n  level: info\noptions:\n  num_threads: 4\n")),
			config.Map{"logging": map[string]any{"level": "debug"}},
		)
		require.NoError(t, err)
		require.Equal(t, "debug", cfg.Logging.Level)

		opts, err := ReadOptions(m)
		require.NoError(t, err)
		require.Equal(t, option.Table{"num_threads": "4"}, opts)
	})

	t.Run("will return a ConfigReadError", func(t *testing.T) {
		t.Run("if a source is malformed", func(t *testing.T) {
			_, err := ReadConfig(nil, config.FromYaml(strings.NewReader("options: [")))

			var rerr ConfigReadError
			require.ErrorAs(t, err, &rerr)
		})
	})

	t.Run("will return a ConfigUnmarshalError", func(t *testing.T) {
		t.Run("if an option is not a scalar", func(t *testing.T) {
			m, err := ReadConfig(nil, config.Map{
				"options": map[string]any{
					"listening_ports": []any{"8080", "8443s"},
				},
			})
			require.NoError(t, err)

			_, err = ReadOptions(m)
			var uerr ConfigUnmarshalError
			require.ErrorAs(t, err, &uerr)

			var serr option.NotAScalarError
			require.ErrorAs(t, err, &serr)
		})
	})
}
