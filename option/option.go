// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package option provides the server option table handed to a native
// server at start.
package option

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/z5labs/mgbridge/config"
	"github.com/z5labs/mgbridge/config/key"
)

// Table maps option names to values. Names are case-sensitive and are
// validated by the native server, not here.
type Table map[string]string

// Clone returns an independent copy of t.
func (t Table) Clone() Table {
	if t == nil {
		return Table{}
	}
	return maps.Clone(t)
}

// Names returns the option names in sorted order.
func (t Table) Names() []string {
	return slices.Sorted(maps.Keys(t))
}

// Flatten serializes t into the native wire shape: names and values
// alternating, sorted by name, followed by a nil terminator. The result
// always has an odd length.
func (t Table) Flatten() []*string {
	names := t.Names()
	flat := make([]*string, 0, 2*len(names)+1)
	for _, name := range names {
		name, value := name, t[name]
		flat = append(flat, &name, &value)
	}
	return append(flat, nil)
}

// Unflatten is the inverse of [Table.Flatten]. It stops at the first nil
// name and reports an error for a name without a value.
func Unflatten(flat []*string) (Table, error) {
	t := make(Table, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		name := flat[i]
		if name == nil {
			return t, nil
		}
		if i+1 >= len(flat) || flat[i+1] == nil {
			return nil, MissingValueError{Name: *name}
		}
		t[*name] = *flat[i+1]
	}
	return nil, ErrUnterminated
}

// MissingValueError occurs when a flattened table has a name
// without a matching value.
type MissingValueError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e MissingValueError) Error() string {
	return fmt.Sprintf("option %s: value cannot be nil", e.Name)
}

// ErrUnterminated is returned by [Unflatten] for arrays without the nil terminator.
var ErrUnterminated = unterminatedError{}

type unterminatedError struct{}

func (unterminatedError) Error() string {
	return "option array is not nil terminated"
}

// NotAScalarError occurs when a config section used as an option table
// contains a nested section or list.
type NotAScalarError struct {
	Name  string
	Value any
}

// Error implements the [builtin.error] interface.
func (e NotAScalarError) Error() string {
	return fmt.Sprintf("option %s: expected a scalar value but got %T", e.Name, e.Value)
}

// FromConfig builds a Table from the config section stored under k.
// A missing section yields an empty table.
func FromConfig(m *config.Manager, k key.Keyer) (Table, error) {
	v, ok := m.Lookup(k)
	if !ok {
		return Table{}, nil
	}
	section, ok := v.(map[string]any)
	if !ok {
		return nil, NotAScalarError{Name: k.Key(), Value: v}
	}

	t := make(Table, len(section))
	for name, raw := range section {
		s, err := scalar(name, raw)
		if err != nil {
			return nil, err
		}
		t[name] = s
	}
	return t, nil
}

func scalar(name string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		// native servers spell booleans as yes/no
		if x {
			return "yes", nil
		}
		return "no", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", NotAScalarError{Name: name, Value: v}
	}
}
