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

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

const (
	fileBackend   = "file"
	tempPrefix    = ".tmp-"
	dirPermission = 0o755
)

// FileStore keeps objects as files under a root directory. Rename is
// os.Rename, so it is atomic as long as the root is a single filesystem.
type FileStore struct {
	root string
}

var _ Storage = (*FileStore)(nil)

// NewFileStore returns a store rooted at root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, dirPermission); err != nil {
		return nil, ioError("init", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory the store is rooted at.
func (s *FileStore) Root() string { return s.root }

// full maps a store path onto the filesystem without letting it escape root.
func (s *FileStore) full(p string) string {
	clean := path.Clean("/" + p)
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *FileStore) Write(ctx context.Context, p string, r io.Reader) (err error) {
	defer func() { recordOp(ctx, fileBackend, "write", err) }()

	dst := s.full(p)
	tmp, err := s.writeTemp(ctx, dst, r)
	if err != nil {
		return ioError("write", p, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return ioError("write", p, err)
	}
	return nil
}

func (s *FileStore) WriteIfAbsent(ctx context.Context, p string, data []byte) (created bool, err error) {
	defer func() { recordOp(ctx, fileBackend, "write_if_absent", err) }()

	dst := s.full(p)
	tmp, err := s.writeTemp(ctx, dst, bytes.NewReader(data))
	if err != nil {
		return false, ioError("write_if_absent", p, err)
	}
	defer func() { _ = os.Remove(tmp) }()

	// link fails if dst exists, which is the atomic test-and-set.
	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, ioError("write_if_absent", p, err)
	}
	return true, nil
}

// writeTemp copies r into a temp file next to dst and returns its name.
func (s *FileStore) writeTemp(ctx context.Context, dst string, r io.Reader) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	recordBytes(ctx, fileBackend, "write", n)
	return f.Name(), nil
}

func (s *FileStore) Read(ctx context.Context, p string) (data []byte, err error) {
	defer func() { recordOp(ctx, fileBackend, "read", err) }()

	data, err = os.ReadFile(s.full(p))
	if err != nil {
		return nil, ioError("read", p, notFound(err))
	}
	recordBytes(ctx, fileBackend, "read", int64(len(data)))
	return data, nil
}

func (s *FileStore) Download(ctx context.Context, tmpdir, p string) (name string, size int64, err error) {
	defer func() { recordOp(ctx, fileBackend, "download", err) }()

	src, err := os.Open(s.full(p))
	if err != nil {
		return "", 0, ioError("download", p, notFound(err))
	}
	defer func() { _ = src.Close() }()

	dst, err := os.CreateTemp(tmpdir, "*-"+path.Base(p))
	if err != nil {
		return "", 0, ioError("download", p, err)
	}
	size, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", 0, ioError("download", p, err)
	}
	recordBytes(ctx, fileBackend, "read", size)
	return dst.Name(), size, nil
}

func (s *FileStore) AtomicRename(ctx context.Context, from, to string) (err error) {
	defer func() { recordOp(ctx, fileBackend, "rename", err) }()

	dst := s.full(to)
	if err := os.MkdirAll(filepath.Dir(dst), dirPermission); err != nil {
		return ioError("rename", to, err)
	}
	if err := os.Rename(s.full(from), dst); err != nil {
		return ioError("rename", from, notFound(err))
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, p string) (err error) {
	defer func() { recordOp(ctx, fileBackend, "delete", err) }()

	if err := os.Remove(s.full(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("delete", p, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, p string) (ok bool, err error) {
	defer func() { recordOp(ctx, fileBackend, "exists", err) }()

	st, err := os.Stat(s.full(p))
	switch {
	case err == nil:
		return st.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, ioError("exists", p, err)
	}
}

func (s *FileStore) List(ctx context.Context, prefix string) (paths []string, err error) {
	defer func() { recordOp(ctx, fileBackend, "list", err) }()

	prefix = strings.TrimPrefix(prefix, "/")
	start := s.full(prefix)
	if !strings.HasSuffix(prefix, "/") && prefix != "" {
		if st, serr := os.Stat(start); serr != nil || !st.IsDir() {
			start = filepath.Dir(start)
		}
	}

	err = filepath.WalkDir(start, func(name string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if errors.Is(werr, fs.ErrNotExist) {
				return nil
			}
			return werr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, rerr := filepath.Rel(s.root, name)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, ioError("list", prefix, err)
	}
	slices.Sort(paths)
	return paths, nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}
