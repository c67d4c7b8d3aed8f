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

package attempt

import (
	"context"
	"io"

	"github.com/cardinalhq/lakewriter/internal/rowgroup"
)

// RowSource yields the rows of one task. It is consumed once and returns
// io.EOF after the last row. An error that is a *rowgroup.RowValidationError
// rejects a single row and the source stays usable.
type RowSource interface {
	Next(ctx context.Context) (rowgroup.Row, error)
}

// SliceSource is a RowSource over rows held in memory.
type SliceSource struct {
	rows []rowgroup.Row
	pos  int
}

var _ RowSource = (*SliceSource)(nil)

// NewSliceSource returns a source that yields rows in order.
func NewSliceSource(rows ...rowgroup.Row) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next(ctx context.Context) (rowgroup.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}
