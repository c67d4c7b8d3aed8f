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

// Package parquetexport rewrites committed column files as Parquet so they
// can be read by query engines that do not understand the native format.
package parquetexport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/colfile"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Options controls the Parquet output.
type Options struct {
	// TmpDir holds page buffers while a row group is assembled.
	TmpDir string
	// Compression is a colencode codec name. s2 has no Parquet equivalent
	// and is written as snappy.
	Compression colencode.Compression
}

// Result describes a finished export.
type Result struct {
	Rows      int64
	RowGroups int
}

// Schema maps a column schema onto a Parquet schema. Nullable columns are
// optional, timestamps are int64 nanoseconds since the epoch.
func Schema(s *schema.Schema) *parquet.Schema {
	group := make(parquet.Group, s.Len())
	for _, col := range s.Columns() {
		group[col.Name] = columnNode(col)
	}
	return parquet.NewSchema("lakewriter", group)
}

func columnNode(col schema.ColumnDescriptor) parquet.Node {
	var n parquet.Node
	switch col.Type {
	case schema.TypeInt:
		n = parquet.Int(64)
	case schema.TypeFloat:
		n = parquet.Leaf(parquet.DoubleType)
	case schema.TypeText:
		n = parquet.String()
	case schema.TypeBool:
		n = parquet.Leaf(parquet.BooleanType)
	case schema.TypeTimestamp:
		n = parquet.Timestamp(parquet.Nanosecond)
	default:
		n = parquet.Leaf(parquet.ByteArrayType)
	}
	switch col.Encoding {
	case schema.HintDictionary:
		n = parquet.Encoded(n, &parquet.RLEDictionary)
	case schema.HintRLE:
		if col.Type == schema.TypeBool {
			n = parquet.Encoded(n, &parquet.RLE)
		}
	}
	if col.Nullable {
		n = parquet.Optional(n)
	}
	return n
}

func codec(c colencode.Compression) (parquet.WriterOption, error) {
	switch c {
	case colencode.CompressionNone, "":
		return parquet.Compression(&parquet.Uncompressed), nil
	case colencode.CompressionZstd:
		return parquet.Compression(&parquet.Zstd), nil
	case colencode.CompressionSnappy, colencode.CompressionS2:
		return parquet.Compression(&parquet.Snappy), nil
	case colencode.CompressionLZ4:
		return parquet.Compression(&parquet.Lz4Raw), nil
	case colencode.CompressionGzip:
		return parquet.Compression(&parquet.Gzip), nil
	}
	return nil, fmt.Errorf("parquetexport: unsupported compression %q", c)
}

// Export writes every row of r to w as Parquet. Each source row group
// becomes one Parquet row group.
func Export(ctx context.Context, r *colfile.Reader, w io.Writer, opts Options) (*Result, error) {
	comp, err := codec(opts.Compression)
	if err != nil {
		return nil, err
	}
	writerOpts := []parquet.WriterOption{
		Schema(r.Schema()),
		comp,
		parquet.PageBufferSize(32 * 1024),
		parquet.CreatedBy("lakewriter", "", ""),
	}
	if opts.TmpDir != "" {
		writerOpts = append(writerOpts, parquet.ColumnPageBuffers(parquet.NewFileBufferPool(opts.TmpDir, "buffers.*")))
	}
	cfg, err := parquet.NewWriterConfig(writerOpts...)
	if err != nil {
		return nil, fmt.Errorf("parquetexport: writer config: %w", err)
	}
	writer := parquet.NewGenericWriter[map[string]any](w, cfg)

	res := &Result{}
	for i := range r.NumRowGroups() {
		if err := ctx.Err(); err != nil {
			_ = writer.Close()
			return nil, err
		}
		rows, err := r.Rows(i)
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("parquetexport: row group %d: %w", i, err)
		}
		batch := make([]map[string]any, len(rows))
		for j, row := range rows {
			batch[j] = toParquetRow(row)
		}
		if _, err := writer.Write(batch); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("parquetexport: write row group %d: %w", i, err)
		}
		if err := writer.Flush(); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("parquetexport: flush row group %d: %w", i, err)
		}
		res.Rows += int64(len(rows))
		res.RowGroups++
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("parquetexport: close writer: %w", err)
	}

	logctx.FromContext(ctx).Debug("Exported column file to parquet",
		slog.Int64("rows", res.Rows),
		slog.Int("rowGroups", res.RowGroups))
	return res, nil
}

// toParquetRow drops nulls and converts timestamps to epoch nanoseconds.
func toParquetRow(row rowgroup.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch tv := v.(type) {
		case nil:
			continue
		case time.Time:
			out[k] = tv.UnixNano()
		default:
			out[k] = v
		}
	}
	return out
}
