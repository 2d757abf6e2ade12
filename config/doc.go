// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config reads layered configuration for bridge servers.
//
// Configuration is built from an ordered list of [Source]s which are
// applied one after another into a nested key value store, so later
// sources override earlier ones:
//
//	m, err := config.Read(
//	    config.FromYaml(config.RenderTextTemplate(f)),
//	    config.FromEnv("MGSERVE"),
//	)
//
// The merged values can then be decoded into a struct using the "config"
// tag, or a subtree can be looked up directly, which is how the server
// option table is extracted:
//
//	var cfg Config
//	err = m.Unmarshal(&cfg)
//	opts, ok := m.Lookup(key.Name("options"))
package config
