// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package storage abstracts the object or file store that staging files,
// final outputs and commit records live in.
//
// Paths are slash separated and relative to the store's root. Backends map
// them onto a directory tree or an S3 key prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is wrapped by errors for paths that do not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage is the set of operations the commit protocol needs.
type Storage interface {
	// Write stores the contents of r at path, replacing any existing object.
	// Readers never observe a partially written object.
	Write(ctx context.Context, path string, r io.Reader) error

	// WriteIfAbsent stores data at path only if nothing is there yet, and
	// reports whether it did. This is the test-and-set commit records use.
	WriteIfAbsent(ctx context.Context, path string, data []byte) (bool, error)

	// Read returns the contents of path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Download copies path into a new file under tmpdir and returns the
	// file name and size.
	Download(ctx context.Context, tmpdir, path string) (string, int64, error)

	// AtomicRename makes the object at from visible at to and removes from.
	AtomicRename(ctx context.Context, from, to string) error

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every path under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// IOError is the error type every backend returns for failed operations.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
