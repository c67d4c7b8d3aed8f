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

package colencode

import (
	"fmt"
	"math"
	"time"

	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Vector accumulates one column's values for a row group. Non-null values
// are stored densely in the slab matching the column type; present records
// which row positions carry a value.
//
// int and timestamp columns share words (timestamps as unix nanoseconds),
// floats are stored in words as IEEE-754 bits, text and bytes share strs.
type Vector struct {
	typ     schema.LogicalType
	present []bool
	words   []uint64
	strs    []string
	bools   []bool
	nulls   int
	size    int64
}

// Timestamps are stored as int64 unix nanoseconds, which bounds them to
// roughly the years 1677 through 2262.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// TimestampInRange reports whether ts survives the nanosecond encoding.
func TimestampInRange(ts time.Time) bool {
	return !ts.Before(MinTimestamp) && !ts.After(MaxTimestamp)
}

// NewVector returns an empty vector for the given type.
func NewVector(typ schema.LogicalType) *Vector {
	return &Vector{typ: typ}
}

// Type returns the column type.
func (v *Vector) Type() schema.LogicalType { return v.typ }

// Len returns the number of rows, null or not.
func (v *Vector) Len() int { return len(v.present) }

// NullCount returns the number of null rows.
func (v *Vector) NullCount() int { return v.nulls }

// EstimatedSize is the approximate in-memory footprint of the pending values.
func (v *Vector) EstimatedSize() int64 { return v.size }

// Reset empties the vector, keeping allocated capacity.
func (v *Vector) Reset() {
	v.present = v.present[:0]
	v.words = v.words[:0]
	v.strs = v.strs[:0]
	v.bools = v.bools[:0]
	v.nulls = 0
	v.size = 0
}

// AppendNull records a null row.
func (v *Vector) AppendNull() {
	v.present = append(v.present, false)
	v.nulls++
	v.size++
}

// Append records a non-null value. The value must already be normalized
// to the column type; see Normalize.
func (v *Vector) Append(value any) error {
	switch v.typ {
	case schema.TypeInt:
		n, ok := value.(int64)
		if !ok {
			return fmt.Errorf("int column got %T", value)
		}
		v.words = append(v.words, uint64(n))
		v.size += 8
	case schema.TypeTimestamp:
		ts, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("timestamp column got %T", value)
		}
		if !TimestampInRange(ts) {
			return fmt.Errorf("timestamp %s is outside %s to %s", ts.Format(time.RFC3339Nano),
				MinTimestamp.Format(time.RFC3339Nano), MaxTimestamp.Format(time.RFC3339Nano))
		}
		v.words = append(v.words, uint64(ts.UnixNano()))
		v.size += 8
	case schema.TypeFloat:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("float column got %T", value)
		}
		v.words = append(v.words, math.Float64bits(f))
		v.size += 8
	case schema.TypeText:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("text column got %T", value)
		}
		v.strs = append(v.strs, s)
		v.size += int64(len(s)) + 16
	case schema.TypeBytes:
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("bytes column got %T", value)
		}
		v.strs = append(v.strs, string(b))
		v.size += int64(len(b)) + 16
	case schema.TypeBool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("bool column got %T", value)
		}
		v.bools = append(v.bools, b)
		v.size++
	default:
		return fmt.Errorf("unsupported column type %s", v.typ)
	}
	v.present = append(v.present, true)
	v.size++
	return nil
}

// Values reconstructs the row-ordered values, with nil for nulls.
func (v *Vector) Values() []any {
	out := make([]any, len(v.present))
	dense := 0
	for i, ok := range v.present {
		if !ok {
			continue
		}
		out[i] = v.denseValue(dense)
		dense++
	}
	return out
}

func (v *Vector) denseValue(i int) any {
	switch v.typ {
	case schema.TypeInt:
		return int64(v.words[i])
	case schema.TypeTimestamp:
		return time.Unix(0, int64(v.words[i])).UTC()
	case schema.TypeFloat:
		return math.Float64frombits(v.words[i])
	case schema.TypeText:
		return v.strs[i]
	case schema.TypeBytes:
		return []byte(v.strs[i])
	case schema.TypeBool:
		return v.bools[i]
	default:
		return nil
	}
}

func (v *Vector) nonNull() int {
	return len(v.present) - v.nulls
}

// Normalize converts a Go value to the canonical representation for typ.
// It returns false when the value cannot represent typ, including
// timestamps outside MinTimestamp and MaxTimestamp.
func Normalize(typ schema.LogicalType, value any) (any, bool) {
	switch typ {
	case schema.TypeInt:
		switch n := value.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int16:
			return int64(n), true
		case int8:
			return int64(n), true
		case uint32:
			return int64(n), true
		case uint16:
			return int64(n), true
		case uint8:
			return int64(n), true
		}
	case schema.TypeFloat:
		switch f := value.(type) {
		case float64:
			return f, true
		case float32:
			return float64(f), true
		}
	case schema.TypeText:
		if s, ok := value.(string); ok {
			return s, true
		}
	case schema.TypeBytes:
		switch b := value.(type) {
		case []byte:
			return b, true
		case string:
			return []byte(b), true
		}
	case schema.TypeBool:
		if b, ok := value.(bool); ok {
			return b, true
		}
	case schema.TypeTimestamp:
		switch ts := value.(type) {
		case time.Time:
			if !TimestampInRange(ts) {
				return nil, false
			}
			return ts, true
		case int64:
			return time.Unix(0, ts).UTC(), true
		}
	}
	return nil, false
}
