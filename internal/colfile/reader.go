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

package colfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/lakewriter/internal/cbor"
	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Reader gives random access to the row groups of a column file.
type Reader struct {
	r      io.ReaderAt
	size   int64
	footer *Footer
	schema *schema.Schema
}

// Open reads and verifies the trailer and footer of a file of the given size.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	if size < trailerSize {
		return nil, ErrNotColumnFile
	}
	var trailer [trailerSize]byte
	if _, err := r.ReadAt(trailer[:], size-trailerSize); err != nil {
		return nil, fmt.Errorf("colfile: read trailer: %w", err)
	}
	if binary.LittleEndian.Uint32(trailer[12:]) != Magic {
		return nil, ErrNotColumnFile
	}
	sum := binary.LittleEndian.Uint64(trailer[0:])
	footerLen := int64(binary.LittleEndian.Uint32(trailer[8:]))
	if footerLen > size-trailerSize {
		return nil, fmt.Errorf("%w: footer length %d exceeds file size", ErrCorruptFooter, footerLen)
	}

	body := make([]byte, footerLen)
	if _, err := r.ReadAt(body, size-trailerSize-footerLen); err != nil {
		return nil, fmt.Errorf("colfile: read footer: %w", err)
	}
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFooter)
	}

	var footer Footer
	if err := cbor.Unmarshal(body, &footer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
	}
	if footer.Version != FormatVersion {
		return nil, fmt.Errorf("colfile: unsupported format version %d", footer.Version)
	}
	s, err := schema.Resolve(footer.Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
	}

	return &Reader{r: r, size: size, footer: &footer, schema: s}, nil
}

// Footer returns the decoded footer.
func (r *Reader) Footer() *Footer { return r.footer }

// Schema returns the file's schema.
func (r *Reader) Schema() *schema.Schema { return r.schema }

// NumRowGroups returns the number of row groups in the file.
func (r *Reader) NumRowGroups() int { return len(r.footer.RowGroups) }

// RowGroup loads the chunks of row group i.
func (r *Reader) RowGroup(i int) (*rowgroup.RowGroup, error) {
	if i < 0 || i >= len(r.footer.RowGroups) {
		return nil, fmt.Errorf("colfile: row group %d out of range [0,%d)", i, len(r.footer.RowGroups))
	}
	meta := r.footer.RowGroups[i]
	rg := &rowgroup.RowGroup{
		Index:   meta.Index,
		NumRows: meta.NumRows,
		Chunks:  make([]*colencode.Chunk, len(meta.Columns)),
	}
	for j, cm := range meta.Columns {
		if cm.Offset < 0 || cm.Offset+int64(cm.Header.Size) > r.size-trailerSize {
			return nil, fmt.Errorf("%w: column %q chunk outside file", ErrCorruptFooter, cm.Header.Column)
		}
		data := make([]byte, cm.Header.Size)
		if _, err := r.r.ReadAt(data, cm.Offset); err != nil {
			return nil, fmt.Errorf("colfile: read column %q of row group %d: %w", cm.Header.Column, i, err)
		}
		rg.Chunks[j] = &colencode.Chunk{Header: cm.Header, Data: data}
	}
	return rg, nil
}

// Rows decodes row group i back into rows. Nulls are nil values.
func (r *Reader) Rows(i int) ([]rowgroup.Row, error) {
	rg, err := r.RowGroup(i)
	if err != nil {
		return nil, err
	}
	rows := make([]rowgroup.Row, rg.NumRows)
	for j := range rows {
		rows[j] = make(rowgroup.Row, len(rg.Chunks))
	}
	for _, c := range rg.Chunks {
		v, err := colencode.Decode(c)
		if err != nil {
			return nil, err
		}
		if v.Len() != rg.NumRows {
			return nil, fmt.Errorf("colfile: column %q decoded %d values, expected %d", c.Column, v.Len(), rg.NumRows)
		}
		for j, value := range v.Values() {
			rows[j][c.Column] = value
		}
	}
	return rows, nil
}

// Each calls fn for every row in file order, stopping at the first error.
func (r *Reader) Each(fn func(row rowgroup.Row) error) error {
	for i := range r.footer.RowGroups {
		rows, err := r.Rows(i)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// File is a Reader over a local file.
type File struct {
	*Reader
	f *os.File
}

// OpenFile opens a local column file.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r, err := Open(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Reader: r, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }
