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

// Package rowgroup accumulates validated rows into per-column vectors and
// seals them into row groups once a size or row-count limit is reached.
package rowgroup

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Row maps lower-case column names to values. A missing key or a nil value
// is a null.
type Row map[string]any

// RowGroup is a sealed, encoded horizontal slice of rows. Chunks are in
// schema column order.
type RowGroup struct {
	Index   int
	NumRows int
	Chunks  []*colencode.Chunk
}

// Sink receives sealed row groups in order.
type Sink interface {
	WriteRowGroup(ctx context.Context, rg *RowGroup) error
}

// Stats summarizes what a buffer has done so far.
type Stats struct {
	RowsAccepted int64
	RowsRejected int64
	RowGroups    int
}

// Buffer is not a concurrent pipeline: Append and Flush serialize on one
// mutex, and parallelism is confined to encoding columns inside a flush.
type Buffer struct {
	mu sync.Mutex

	schema  *schema.Schema
	cols    []schema.ColumnDescriptor
	cfg     Config
	encoder *colencode.Encoder
	sink    Sink

	vectors []*colencode.Vector
	staged  []any
	pending int
	bytes   int64

	seen   int64
	stats  Stats
	closed bool
	err    error
}

// NewBuffer returns a buffer that encodes with enc and hands row groups to sink.
func NewBuffer(s *schema.Schema, cfg Config, enc *colencode.Encoder, sink Sink) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enc == nil || sink == nil {
		return nil, fmt.Errorf("rowgroup: encoder and sink are required")
	}
	b := &Buffer{
		schema:  s,
		cols:    s.Columns(),
		cfg:     cfg,
		encoder: enc,
		sink:    sink,
		vectors: make([]*colencode.Vector, s.Len()),
		staged:  make([]any, s.Len()),
	}
	for i, col := range b.cols {
		b.vectors[i] = colencode.NewVector(col.Type)
	}
	return b, nil
}

// Append validates row and adds it to the pending group. A validation
// failure returns a *RowValidationError and leaves every column untouched.
// Reaching a limit flushes before Append returns.
func (b *Buffer) Append(ctx context.Context, row Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}
	if b.err != nil {
		return b.err
	}

	idx := b.seen
	b.seen++
	if verr := b.validate(idx, row); verr != nil {
		b.stats.RowsRejected++
		rowsRejected.Add(ctx, 1)
		return verr
	}

	for i, v := range b.staged {
		vec := b.vectors[i]
		before := vec.EstimatedSize()
		if v == nil {
			vec.AppendNull()
		} else if err := vec.Append(v); err != nil {
			// validate already normalized the value.
			panic(fmt.Sprintf("rowgroup: normalized value rejected: %v", err))
		}
		b.bytes += vec.EstimatedSize() - before
		b.staged[i] = nil
	}
	b.pending++
	b.stats.RowsAccepted++
	rowsAppended.Add(ctx, 1)

	if b.pending >= b.cfg.GetMaxRows() || b.bytes >= b.cfg.GetMaxBytes() {
		return b.flushLocked(ctx)
	}
	return nil
}

// validate normalizes every value of row into b.staged.
func (b *Buffer) validate(idx int64, row Row) *RowValidationError {
	for i, col := range b.cols {
		raw, ok := row[col.Name]
		if !ok || raw == nil {
			if !col.Nullable {
				return &RowValidationError{Row: idx, Column: col.Name, Reason: "null value for non-nullable column"}
			}
			b.staged[i] = nil
			continue
		}
		v, ok := colencode.Normalize(col.Type, raw)
		if !ok {
			reason := fmt.Sprintf("expected %s, got %T", col.Type, raw)
			if ts, isTime := raw.(time.Time); isTime && col.Type == schema.TypeTimestamp {
				reason = fmt.Sprintf("timestamp %s is out of range", ts.Format(time.RFC3339))
			}
			return &RowValidationError{Row: idx, Column: col.Name, Reason: reason}
		}
		b.staged[i] = v
	}
	if b.hasUnknown(row) {
		for _, name := range slices.Sorted(maps.Keys(row)) {
			if _, ok := b.schema.Index(name); !ok {
				return &RowValidationError{Row: idx, Column: name, Reason: "column is not in the schema"}
			}
		}
	}
	return nil
}

func (b *Buffer) hasUnknown(row Row) bool {
	for name := range row {
		if _, ok := b.schema.Index(name); !ok {
			return true
		}
	}
	return false
}

// Flush seals the pending rows, if any, into a row group.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if b.err != nil {
		return b.err
	}
	return b.flushLocked(ctx)
}

// Close flushes the final partial row group. Calling Close again is a no-op.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.err
	}
	b.closed = true
	if b.err != nil {
		return b.err
	}
	return b.flushLocked(ctx)
}

// Stats returns the buffer's counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Pending returns the number of rows not yet sealed.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

func (b *Buffer) flushLocked(ctx context.Context) error {
	if b.pending == 0 {
		return nil
	}

	chunks := make([]*colencode.Chunk, len(b.cols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.GetParallelism())
	for i, col := range b.cols {
		g.Go(func() error {
			chunk, err := b.encoder.Encode(gctx, col, b.vectors[i])
			if err != nil {
				return err
			}
			chunks[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.err = fmt.Errorf("rowgroup: encode row group %d: %w", b.stats.RowGroups, err)
		return b.err
	}

	rg := &RowGroup{Index: b.stats.RowGroups, NumRows: b.pending, Chunks: chunks}
	if err := b.sink.WriteRowGroup(ctx, rg); err != nil {
		b.err = fmt.Errorf("rowgroup: write row group %d: %w", rg.Index, err)
		return b.err
	}

	logctx.FromContext(ctx).Debug("Sealed row group",
		slog.Int("rowGroup", rg.Index),
		slog.Int("rows", rg.NumRows),
		slog.Int64("estimatedBytes", b.bytes))
	rowGroupsFlushed.Add(ctx, 1)
	rowGroupRows.Record(ctx, int64(rg.NumRows))

	for _, v := range b.vectors {
		v.Reset()
	}
	b.pending = 0
	b.bytes = 0
	b.stats.RowGroups++
	return nil
}
