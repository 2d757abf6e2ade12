// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mgbridge

import (
	"github.com/z5labs/mgbridge/config"
	"github.com/z5labs/mgbridge/config/key"
	"github.com/z5labs/mgbridge/option"
)

// ReadConfig merges srcs, later sources overriding earlier ones, and
// decodes the result into v unless v is nil.
func ReadConfig(v any, srcs ...config.Source) (*config.Manager, error) {
	m, err := config.Read(srcs...)
	if err != nil {
		return nil, ConfigReadError{Cause: err}
	}
	if v == nil {
		return m, nil
	}
	err = m.Unmarshal(v)
	if err != nil {
		return nil, ConfigUnmarshalError{Cause: err}
	}
	return m, nil
}

// OptionsKey is where [ReadOptions] looks for the option table.
const OptionsKey = key.Name("options")

// ReadOptions extracts the option table stored under [OptionsKey].
func ReadOptions(m *config.Manager) (option.Table, error) {
	t, err := option.FromConfig(m, OptionsKey)
	if err != nil {
		return nil, ConfigUnmarshalError{Cause: err}
	}
	return t, nil
}
