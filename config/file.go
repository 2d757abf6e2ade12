// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io/fs"
)

// OpenFileError is returned by [FileReader] when the file could not be
// opened.
type OpenFileError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e OpenFileError) Error() string {
	return fmt.Sprintf("failed to open config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e OpenFileError) Unwrap() error {
	return e.Cause
}

// FileReader opens a file from a [fs.FS] on first Read, so a config
// file can be named when the sources are assembled and only touched once
// they are applied. A watcher can then rebuild the same source chain on
// every change.
type FileReader struct {
	fsys fs.FS
	path string

	opened bool
	file   fs.File
	err    error
}

// NewFileReader returns a reader for path inside fsys.
func NewFileReader(fsys fs.FS, path string) *FileReader {
	return &FileReader{fsys: fsys, path: path}
}

// Read implements the io.Reader interface.
func (r *FileReader) Read(b []byte) (int, error) {
	if !r.opened {
		r.opened = true
		r.file, r.err = r.fsys.Open(r.path)
		if r.err != nil {
			r.err = OpenFileError{Path: r.path, Cause: r.err}
		}
	}
	if r.err != nil {
		return 0, r.err
	}
	return r.file.Read(b)
}

// Close implements the io.Closer interface. Closing an unopened reader
// is a no-op.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	r.err = fs.ErrClosed
	return f.Close()
}
