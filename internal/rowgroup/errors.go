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

package rowgroup

import (
	"errors"
	"fmt"
)

// ErrBufferClosed is returned by Append and Flush after Close.
var ErrBufferClosed = errors.New("rowgroup: buffer is closed")

// RowValidationError rejects a single row. The row is not applied to any
// column, so rows appended before it are unaffected.
type RowValidationError struct {
	// Row is the zero-based position of the row among all rows given to Append.
	Row    int64
	Column string
	Reason string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("row %d: column %q: %s", e.Row, e.Column, e.Reason)
}
