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
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/lakewriter/internal/cbor"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Writer appends row groups to w and finishes with a footer. It never reads
// back what it wrote. Writer satisfies rowgroup.Sink.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	schema *schema.Schema
	offset int64
	footer Footer
	closed bool
}

var _ rowgroup.Sink = (*Writer)(nil)

// NewWriter returns a writer for files of schema s.
func NewWriter(w io.Writer, s *schema.Schema) *Writer {
	return &Writer{
		w:      w,
		schema: s,
		footer: Footer{Version: FormatVersion, Schema: s.Raw()},
	}
}

// WriteRowGroup appends rg's chunks in column order.
func (w *Writer) WriteRowGroup(_ context.Context, rg *rowgroup.RowGroup) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if len(rg.Chunks) != w.schema.Len() {
		return fmt.Errorf("colfile: row group %d has %d chunks, schema has %d columns", rg.Index, len(rg.Chunks), w.schema.Len())
	}

	meta := RowGroupMeta{
		Index:   len(w.footer.RowGroups),
		NumRows: rg.NumRows,
		Offset:  w.offset,
		Columns: make([]ChunkMeta, len(rg.Chunks)),
	}
	for i, c := range rg.Chunks {
		if want := w.schema.Column(i).Name; c.Column != want {
			return fmt.Errorf("colfile: row group %d chunk %d is column %q, expected %q", rg.Index, i, c.Column, want)
		}
		if c.NumValues != rg.NumRows {
			return fmt.Errorf("colfile: column %q has %d values, row group has %d rows", c.Column, c.NumValues, rg.NumRows)
		}
		meta.Columns[i] = ChunkMeta{Offset: w.offset, Header: c.Header}
		if err := w.write(c.Data); err != nil {
			return err
		}
	}
	meta.Size = w.offset - meta.Offset

	w.footer.RowGroups = append(w.footer.RowGroups, meta)
	w.footer.NumRows += int64(rg.NumRows)
	return nil
}

// Close writes the footer and trailer. The underlying writer is not closed.
func (w *Writer) Close() (*Footer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWriterClosed
	}
	w.closed = true

	body, err := cbor.Marshal(&w.footer)
	if err != nil {
		return nil, fmt.Errorf("colfile: encode footer: %w", err)
	}
	trailer := make([]byte, 0, trailerSize)
	trailer = binary.LittleEndian.AppendUint64(trailer, xxhash.Sum64(body))
	trailer = binary.LittleEndian.AppendUint32(trailer, uint32(len(body)))
	trailer = binary.LittleEndian.AppendUint32(trailer, Magic)

	if err := w.write(body); err != nil {
		return nil, err
	}
	if err := w.write(trailer); err != nil {
		return nil, err
	}

	footer := w.footer
	return &footer, nil
}

// BytesWritten returns the number of bytes written so far.
func (w *Writer) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	if err != nil {
		return fmt.Errorf("colfile: write at offset %d: %w", w.offset, err)
	}
	return nil
}
