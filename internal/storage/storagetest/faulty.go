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

// Package storagetest wraps a storage.Storage with injectable failures.
package storagetest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Operation names accepted by Fail and FailOnce.
const (
	OpWrite         = "write"
	OpWriteIfAbsent = "write_if_absent"
	OpRead          = "read"
	OpDownload      = "download"
	OpRename        = "rename"
	OpDelete        = "delete"
	OpExists        = "exists"
	OpList          = "list"
)

type fault struct {
	op        string
	prefix    string
	err       error
	remaining int // < 0 means forever
}

// Faulty delegates to an inner store unless a registered fault matches the
// operation and path prefix. Rename faults match the source path.
type Faulty struct {
	storage.Storage

	mu     sync.Mutex
	faults []*fault
	calls  map[string]int

	// BeforeRename, when set, runs before every rename is attempted.
	BeforeRename func(from, to string)

	// BeforeWriteIfAbsent, when set, runs before every conditional write.
	BeforeWriteIfAbsent func(p string)
}

var _ storage.Storage = (*Faulty)(nil)

// New wraps inner.
func New(inner storage.Storage) *Faulty {
	return &Faulty{Storage: inner, calls: make(map[string]int)}
}

// Fail makes every op on a path under prefix return err until Clear.
func (f *Faulty) Fail(op, prefix string, err error) {
	f.add(op, prefix, err, -1)
}

// FailOnce makes the next op on a path under prefix return err.
func (f *Faulty) FailOnce(op, prefix string, err error) {
	f.add(op, prefix, err, 1)
}

func (f *Faulty) add(op, prefix string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, prefix: prefix, err: err, remaining: n})
}

// Clear removes every fault.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// Calls returns how many times op was invoked, failed or not.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, ft := range f.faults {
		if ft.op != op || ft.remaining == 0 || !strings.HasPrefix(p, ft.prefix) {
			continue
		}
		if ft.remaining > 0 {
			ft.remaining--
		}
		return &storage.IOError{Op: op, Path: p, Err: ft.err}
	}
	return nil
}

func (f *Faulty) Write(ctx context.Context, p string, r io.Reader) error {
	if err := f.check(OpWrite, p); err != nil {
		return err
	}
	return f.Storage.Write(ctx, p, r)
}

func (f *Faulty) WriteIfAbsent(ctx context.Context, p string, data []byte) (bool, error) {
	if f.BeforeWriteIfAbsent != nil {
		f.BeforeWriteIfAbsent(p)
	}
	if err := f.check(OpWriteIfAbsent, p); err != nil {
		return false, err
	}
	return f.Storage.WriteIfAbsent(ctx, p, data)
}

func (f *Faulty) Read(ctx context.Context, p string) ([]byte, error) {
	if err := f.check(OpRead, p); err != nil {
		return nil, err
	}
	return f.Storage.Read(ctx, p)
}

func (f *Faulty) Download(ctx context.Context, tmpdir, p string) (string, int64, error) {
	if err := f.check(OpDownload, p); err != nil {
		return "", 0, err
	}
	return f.Storage.Download(ctx, tmpdir, p)
}

func (f *Faulty) AtomicRename(ctx context.Context, from, to string) error {
	if f.BeforeRename != nil {
		f.BeforeRename(from, to)
	}
	if err := f.check(OpRename, from); err != nil {
		return err
	}
	return f.Storage.AtomicRename(ctx, from, to)
}

func (f *Faulty) Delete(ctx context.Context, p string) error {
	if err := f.check(OpDelete, p); err != nil {
		return err
	}
	return f.Storage.Delete(ctx, p)
}

func (f *Faulty) Exists(ctx context.Context, p string) (bool, error) {
	if err := f.check(OpExists, p); err != nil {
		return false, err
	}
	return f.Storage.Exists(ctx, p)
}

func (f *Faulty) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}
	return f.Storage.List(ctx, prefix)
}
