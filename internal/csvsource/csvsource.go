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

// Package csvsource turns a CSV stream with a header row into typed rows
// for a schema.
package csvsource

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Source reads rows from a CSV stream. Fields are mapped to columns by the
// lower-cased header name; an empty field is a null.
type Source struct {
	reader  *csv.Reader
	closer  io.Closer
	cols    []schema.ColumnDescriptor
	mapping []int // csv field -> schema column
	rows    int64
	done    bool
}

// New reads the header row of r and checks it against s. Every header
// name must be a schema column, and every non-nullable column must appear
// in the header. If r is an io.Closer, Close closes it.
func New(r io.Reader, s *schema.Schema) (*Source, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csvsource: input has no header row")
		}
		return nil, fmt.Errorf("csvsource: read header: %w", err)
	}

	src := &Source{
		reader:  reader,
		cols:    s.Columns(),
		mapping: make([]int, len(header)),
	}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}

	seen := make(map[int]bool, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		idx, ok := s.Index(name)
		if !ok {
			return nil, fmt.Errorf("csvsource: header column %q is not in the schema", name)
		}
		if seen[idx] {
			return nil, fmt.Errorf("csvsource: header column %q appears twice", name)
		}
		seen[idx] = true
		src.mapping[i] = idx
	}
	for i, col := range src.cols {
		if !seen[i] && !col.Nullable {
			return nil, fmt.Errorf("csvsource: non-nullable column %q is missing from the header", col.Name)
		}
	}
	return src, nil
}

// Open opens a local CSV file. Files ending in .gz are decompressed.
func Open(path string, s *schema.Schema) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.ReadCloser = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csvsource: open gzip %s: %w", path, err)
		}
		r = &gzipFile{Reader: gz, f: f}
	}
	src, err := New(r, s)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

// Next returns the next row. A record that cannot be converted yields a
// *rowgroup.RowValidationError, after which Next can be called again.
func (s *Source) Next(ctx context.Context) (rowgroup.Row, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			idx := s.rows
			s.rows++
			return nil, &rowgroup.RowValidationError{Row: idx, Reason: perr.Error()}
		}
		return nil, fmt.Errorf("csvsource: read record %d: %w", s.rows, err)
	}

	idx := s.rows
	s.rows++
	if len(record) != len(s.mapping) {
		return nil, &rowgroup.RowValidationError{
			Row:    idx,
			Reason: fmt.Sprintf("record has %d fields, header has %d", len(record), len(s.mapping)),
		}
	}

	row := make(rowgroup.Row, len(record))
	for i, field := range record {
		col := s.cols[s.mapping[i]]
		v, err := ParseValue(col.Type, field)
		if err != nil {
			return nil, &rowgroup.RowValidationError{Row: idx, Column: col.Name, Reason: err.Error()}
		}
		if v != nil {
			row[col.Name] = v
		}
	}
	return row, nil
}

// Rows returns the number of data records read so far.
func (s *Source) Rows() int64 { return s.rows }

// Close closes the underlying reader, if it is closable.
func (s *Source) Close() error {
	s.done = true
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}

// ParseValue converts a CSV field to the canonical Go value for typ. The
// empty string is a null (nil, nil). Timestamps are RFC 3339 or integer
// unix nanoseconds; bytes are standard base64.
func ParseValue(typ schema.LogicalType, field string) (any, error) {
	if field == "" {
		return nil, nil
	}
	trimmed := strings.TrimSpace(field)
	switch typ {
	case schema.TypeText:
		return field, nil
	case schema.TypeInt:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q", field)
		}
		return n, nil
	case schema.TypeFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", field)
		}
		return f, nil
	case schema.TypeBool:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", field)
		}
		return b, nil
	case schema.TypeTimestamp:
		if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
			if !colencode.TimestampInRange(ts) {
				return nil, fmt.Errorf("timestamp %q is out of range", field)
			}
			return ts.UTC(), nil
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", field)
		}
		return time.Unix(0, n).UTC(), nil
	case schema.TypeBytes:
		b, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 %q", field)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", typ)
	}
}
