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

	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Kind is the value encoding used for a chunk.
type Kind uint8

const (
	KindPlain Kind = iota + 1
	KindDictionary
	KindRLE
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindDictionary:
		return "dictionary"
	case KindRLE:
		return "rle"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Stats are the per-chunk column statistics. Min and Max only consider
// non-null values and are nil when there are none or the type is not
// orderable. Timestamps are reported as unix nanoseconds.
type Stats struct {
	NullCount     int    `cbor:"nulls"`
	DistinctCount uint64 `cbor:"distinct"`
	DistinctExact bool   `cbor:"distinct_exact"`
	Min           any    `cbor:"min,omitempty"`
	Max           any    `cbor:"max,omitempty"`
}

// HasMinMax reports whether min/max statistics are present.
func (s Stats) HasMinMax() bool {
	return s.Min != nil && s.Max != nil
}

// Header describes an encoded chunk. It is everything a reader needs to
// decode Data, and is what the file footer stores per column chunk.
type Header struct {
	Column             string             `cbor:"column"`
	Type               schema.LogicalType `cbor:"type"`
	Encoding           Kind               `cbor:"encoding"`
	DictionaryFallback bool               `cbor:"dict_fallback,omitempty"`
	Codec              Compression        `cbor:"codec"`
	Compressed         bool               `cbor:"compressed"`
	NumValues          int                `cbor:"values"`
	UncompressedSize   int                `cbor:"raw_size"`
	Size               int                `cbor:"size"`
	Checksum           uint64             `cbor:"xxhash"`
	Stats              Stats              `cbor:"stats"`
}

// Chunk is one column's sealed bytes for a row group.
type Chunk struct {
	Header
	Data []byte
}
