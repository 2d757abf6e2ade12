// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/z5labs/mgbridge"
	"github.com/z5labs/mgbridge/config"
	"github.com/z5labs/mgbridge/option"
)

// EnvPrefix selects the environment variables applied over the config
// file, e.g. MGSERVE__OPTIONS__NUM_THREADS.
const EnvPrefix = "MGSERVE"

// Config is the process level configuration. Server options live in
// the "options" section and are passed to the engine untouched.
type Config struct {
	Logging struct {
		Level     string `config:"level"`
		Format    string `config:"format"`
		AddSource bool   `config:"add_source"`
	} `config:"logging"`

	Metrics struct {
		Addr string `config:"addr"`
	} `config:"metrics"`

	Telemetry struct {
		Exporter string        `config:"exporter"`
		Interval time.Duration `config:"interval"`
	} `config:"telemetry"`

	DrainTimeout time.Duration `config:"drain_timeout"`
}

var defaults = config.Map{
	"logging": map[string]any{
		"level":  "info",
		"format": "text",
	},
	"telemetry": map[string]any{
		"exporter": "none",
	},
	"drain_timeout": "10s",
}

// loadConfig reads the defaults, then the file at path if given, then
// the environment. The file is a text template, so it may refer to
// environment variables itself.
func loadConfig(path string) (Config, option.Table, error) {
	srcs := []config.Source{defaults}
	if path != "" {
		f := config.NewFileReader(os.DirFS(filepath.Dir(path)), filepath.Base(path))
		defer f.Close()

		srcs = append(srcs, config.FromYaml(config.RenderTextTemplate(f)))
	}
	srcs = append(srcs, config.FromEnv(EnvPrefix))

	var cfg Config
	m, err := mgbridge.ReadConfig(&cfg, srcs...)
	if err != nil {
		return Config{}, nil, err
	}
	opts, err := mgbridge.ReadOptions(m)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, opts, nil
}
