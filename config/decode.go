// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/z5labs/mgbridge/internal/try"

	"gopkg.in/yaml.v3"
)

// Format names a document encoding understood by [Decoded].
type Format string

const (
	FormatYaml Format = "yaml"
	FormatJson Format = "json"
)

func (f Format) unmarshal(b []byte, m *map[string]any) error {
	switch f {
	case FormatYaml:
		return yaml.Unmarshal(b, m)
	case FormatJson:
		return json.Unmarshal(b, m)
	default:
		return fmt.Errorf("unsupported format %q", string(f))
	}
}

// Decoded is a Source whose values are a YAML or JSON document read
// from an io.Reader. The reader is closed after Apply if it is an
// io.Closer, e.g. a [FileReader].
type Decoded struct {
	format Format
	r      io.Reader
}

// FromYaml returns a Source reading a YAML mapping from r.
func FromYaml(r io.Reader) Decoded {
	return Decoded{format: FormatYaml, r: r}
}

// FromJson returns a Source reading a JSON object from r.
func FromJson(r io.Reader) Decoded {
	return Decoded{format: FormatJson, r: r}
}

// InvalidDocumentError occurs if the reader does not hold a valid
// mapping in the expected format.
type InvalidDocumentError struct {
	Format Format
	Cause  error
}

// Error implements the error interface.
func (e InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Format, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidDocumentError) Unwrap() error {
	return e.Cause
}

// Apply implements the Source interface.
func (src Decoded) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}

	// An empty file is an empty mapping, not an error.
	m := make(map[string]any)
	if err := src.format.unmarshal(b, &m); err != nil {
		return InvalidDocumentError{Format: src.format, Cause: err}
	}
	return Map(m).Apply(store)
}
