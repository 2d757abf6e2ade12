// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/z5labs/mgbridge/config/key"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFunc func(key.Keyer, any) error

func (f storeFunc) Set(k key.Keyer, v any) error {
	return f(k, v)
}

func TestMap_Apply(t *testing.T) {
	t.Run("will construct a key.Chain for nested keys", func(t *testing.T) {
		var keys []string
		store := storeFunc(func(k key.Keyer, v any) error {
			keys = append(keys, k.Key())
			return nil
		})

		err := Map{
			"options": map[string]any{
				"num_threads": 5,
			},
		}.Apply(store)
		require.NoError(t, err)
		assert.Equal(t, []string{"options.num_threads"}, keys)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the store fails to set a value", func(t *testing.T) {
			setErr := errors.New("failed to set")
			store := storeFunc(func(k key.Keyer, v any) error {
				return setErr
			})

			err := Map{"a": 1}.Apply(store)
			assert.ErrorIs(t, err, setErr)
		})
	})
}

func TestRead(t *testing.T) {
	t.Run("will override earlier sources with later ones", func(t *testing.T) {
		m, err := Read(
			FromYaml(strings.NewReader("options:\n  listening_ports: \"8080\"\n  num_threads: 10\n")),
			FromJson(strings.NewReader(`{"options": {"listening_ports": "9090"}}`)),
		)
		require.NoError(t, err)

		v, ok := m.Lookup(key.Chain{key.Name("options"), key.Name("listening_ports")})
		require.True(t, ok)
		assert.Equal(t, "9090", v)

		v, ok = m.Lookup(key.Chain{key.Name("options"), key.Name("num_threads")})
		require.True(t, ok)
		assert.Equal(t, 10, v)
	})

	t.Run("will return an empty manager if no sources are given", func(t *testing.T) {
		m, err := Read()
		require.NoError(t, err)

		_, ok := m.Lookup(key.Name("anything"))
		assert.False(t, ok)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the yaml is invalid", func(t *testing.T) {
			_, err := Read(FromYaml(strings.NewReader("a: [")))

			var derr InvalidDocumentError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, FormatYaml, derr.Format)
		})

		t.Run("if the json is invalid", func(t *testing.T) {
			_, err := Read(FromJson(strings.NewReader("{")))

			var derr InvalidDocumentError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, FormatJson, derr.Format)
		})

		t.Run("if a value replaces a section", func(t *testing.T) {
			_, err := Read(
				Map{"a": map[string]any{"b": 1}},
				SourceFunc(func(s Store) error {
					return s.Set(key.Chain{key.Name("a"), key.Name("b"), key.Name("c")}, 1)
				}),
			)

			var kerr UnexpectedKeyValueTypeError
			assert.ErrorAs(t, err, &kerr)
		})
	})
}

func TestManager_Lookup(t *testing.T) {
	m, err := Read(Map{
		"options": map[string]any{
			"document_root": "/tmp",
		},
	})
	require.NoError(t, err)

	t.Run("will return a nested section as a map", func(t *testing.T) {
		v, ok := m.Lookup(key.Name("options"))
		require.True(t, ok)
		assert.Equal(t, map[string]any{"document_root": "/tmp"}, v)
	})

	t.Run("will not descend into a scalar", func(t *testing.T) {
		_, ok := m.Lookup(key.Chain{key.Name("options"), key.Name("document_root"), key.Name("x")})
		assert.False(t, ok)
	})

	t.Run("will not find an empty chain", func(t *testing.T) {
		_, ok := m.Lookup(key.Chain{})
		assert.False(t, ok)
	})
}

func TestManager_Unmarshal(t *testing.T) {
	type logConfig struct {
		Level string `config:"level"`
	}
	type cfg struct {
		Log          logConfig         `config:"log"`
		DrainTimeout time.Duration     `config:"drain_timeout"`
		Options      map[string]string `config:"options"`
	}

	m, err := Read(FromYaml(strings.NewReader(`
log:
  level: debug
drain_timeout: 5s
options:
  num_threads: 4
  listening_ports: "8080"
`)))
	require.NoError(t, err)

	var c cfg
	err = m.Unmarshal(&c)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 5*time.Second, c.DrainTimeout)
	assert.Equal(t, "4", c.Options["num_threads"])
	assert.Equal(t, "8080", c.Options["listening_ports"])
}

func TestEnv_Apply(t *testing.T) {
	src := Env{
		prefix: "MGSERVE",
		environ: func() []string {
			return []string{
				"MGSERVE__OPTIONS__NUM_THREADS=8",
				"MGSERVE__LOG__LEVEL=warn",
				"OTHER__OPTIONS__NUM_THREADS=1",
				"MGSERVE=ignored",
				"malformed",
			}
		},
	}

	m, err := Read(src)
	require.NoError(t, err)

	v, ok := m.Lookup(key.Chain{key.Name("options"), key.Name("num_threads")})
	require.True(t, ok)
	assert.Equal(t, "8", v)

	v, ok = m.Lookup(key.Chain{key.Name("log"), key.Name("level")})
	require.True(t, ok)
	assert.Equal(t, "warn", v)

	_, ok = m.Lookup(key.Name("mgserve"))
	assert.False(t, ok)
}

func TestRenderTextTemplate(t *testing.T) {
	t.Run("will render env and default functions", func(t *testing.T) {
		t.Setenv("MGBRIDGE_TEST_ROOT", "/srv/www")

		r := RenderTextTemplate(strings.NewReader(
			"root: {{ env \"MGBRIDGE_TEST_ROOT\" }}\nport: {{ env \"MGBRIDGE_TEST_UNSET\" | default \"8080\" }}\n",
		))
		m, err := Read(FromYaml(r))
		require.NoError(t, err)

		v, _ := m.Lookup(key.Name("root"))
		assert.Equal(t, "/srv/www", v)
		v, _ = m.Lookup(key.Name("port"))
		assert.Equal(t, 8080, v)
	})

	t.Run("will return a parse error for an invalid template", func(t *testing.T) {
		r := RenderTextTemplate(strings.NewReader("{{ "))

		_, err := r.Read(make([]byte, 8))

		var perr TextTemplateParseError
		assert.ErrorAs(t, err, &perr)

		_, err = r.Read(make([]byte, 8))
		assert.ErrorAs(t, err, &perr)
	})
}

func TestFileReader(t *testing.T) {
	t.Run("will open the file lazily", func(t *testing.T) {
		fsys := fstest.MapFS{
			"mgserve.yaml": &fstest.MapFile{Data: []byte("a: 1\n")},
		}

		r := NewFileReader(fsys, "mgserve.yaml")
		m, err := Read(FromYaml(r))
		require.NoError(t, err)

		v, _ := m.Lookup(key.Name("a"))
		assert.Equal(t, 1, v)
	})

	t.Run("will return the open error", func(t *testing.T) {
		r := NewFileReader(fstest.MapFS{}, "missing.yaml")

		_, err := Read(FromYaml(r))

		var oerr OpenFileError
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, "missing.yaml", oerr.Path)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("will treat an empty file as an empty mapping", func(t *testing.T) {
		fsys := fstest.MapFS{"empty.yaml": &fstest.MapFile{}}

		m, err := Read(FromYaml(NewFileReader(fsys, "empty.yaml")))
		require.NoError(t, err)

		_, ok := m.Lookup(key.Name("a"))
		assert.False(t, ok)
	})
}
