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

// Package colencode turns one column's values for a row group into a sealed,
// self-describing chunk: a presence bitmap, a value payload in plain,
// dictionary or run-length form, optional compression, and statistics.
//
// Chunk body layout before compression:
//
//	uvarint  presence bitmap length (0 when the chunk has no nulls)
//	[]byte   presence bitmap, one bit per row, MSB first
//	[]byte   value payload for the non-null values
//
// The encoding is chosen once, when the chunk is sealed, so a chunk is never
// partially dictionary encoded. Output is a pure function of the values and
// the Config.
package colencode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakewriter/internal/schema"
)

// Encoder seals vectors into chunks. It holds no per-column state and is
// safe for concurrent use by multiple goroutines.
type Encoder struct {
	cfg Config
}

// NewEncoder validates cfg and returns an Encoder.
func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg}, nil
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config { return e.cfg }

// Encode seals v, which holds the values of col for one row group.
func (e *Encoder) Encode(ctx context.Context, col schema.ColumnDescriptor, v *Vector) (*Chunk, error) {
	if v.Type() != col.Type {
		return nil, fmt.Errorf("colencode: column %q is %s but vector holds %s", col.Name, col.Type, v.Type())
	}

	h := Header{
		Column:    col.Name,
		Type:      col.Type,
		Codec:     e.cfg.Compression,
		NumValues: v.Len(),
		Stats:     Stats{NullCount: v.NullCount()},
	}

	body := appendPresence(nil, v)

	switch col.Type {
	case schema.TypeInt, schema.TypeTimestamp, schema.TypeFloat:
		body = e.encodeWords(col, v.words, &h, body)
	case schema.TypeText, schema.TypeBytes:
		body = e.encodeStrings(col, v.strs, &h, body)
	case schema.TypeBool:
		body = e.encodeBools(col, v.bools, &h, body)
	default:
		return nil, fmt.Errorf("colencode: unsupported column type %s", col.Type)
	}

	h.UncompressedSize = len(body)
	data, compressed, err := compressBody(e.cfg.Compression, body)
	if err != nil {
		return nil, fmt.Errorf("colencode: compress column %q: %w", col.Name, err)
	}
	h.Compressed = compressed
	h.Size = len(data)
	h.Checksum = xxhash.Sum64(data)

	attrs := metric.WithAttributes(
		attribute.String("encoding", h.Encoding.String()),
		attribute.Bool("compressed", compressed),
	)
	chunkCounter.Add(ctx, 1, attrs)
	chunkRawBytes.Add(ctx, int64(h.UncompressedSize), attrs)
	chunkStoredBytes.Add(ctx, int64(h.Size), attrs)
	if h.DictionaryFallback {
		dictFallbacks.Add(ctx, 1)
	}

	return &Chunk{Header: h, Data: data}, nil
}

func appendPresence(dst []byte, v *Vector) []byte {
	if v.NullCount() == 0 {
		return binary.AppendUvarint(dst, 0)
	}
	bitmap := packBools(v.present)
	dst = binary.AppendUvarint(dst, uint64(len(bitmap)))
	return append(dst, bitmap...)
}

// useDictionary reports whether a dictionary of distinct entries should be
// used for n non-null values.
func (e *Encoder) useDictionary(distinct, n int) bool {
	if n == 0 {
		return false
	}
	return float64(distinct)/float64(n) < e.cfg.DictionaryRatio
}

func (e *Encoder) encodeWords(col schema.ColumnDescriptor, words []uint64, h *Header, body []byte) []byte {
	h.Stats.Min, h.Stats.Max = wordMinMax(col.Type, words)

	dict, ids, err := buildDictionary(words, e.cfg.DictionaryMaxEntries)
	overflow := isOverflow(err)
	if overflow {
		h.Stats.DistinctCount = estimateDistinctWords(words)
	} else {
		h.Stats.DistinctCount = uint64(len(dict.values))
		h.Stats.DistinctExact = true
	}

	if col.Encoding == schema.HintRLE && col.Type == schema.TypeInt && rleWorthwhile(countRuns(words), len(words)) {
		h.Encoding = KindRLE
		return appendRLEInts(body, words)
	}

	if col.Encoding != schema.HintPlain && len(words) > 0 {
		switch {
		case overflow:
			h.DictionaryFallback = true
		case e.useDictionary(len(dict.values), len(words)):
			h.Encoding = KindDictionary
			width := indexWidth(len(dict.values))
			body = binary.AppendUvarint(body, uint64(len(dict.values)))
			body = appendWords(body, dict.values)
			body = append(body, byte(width))
			return appendHybrid(body, ids, width)
		}
	}

	h.Encoding = KindPlain
	return appendWords(body, words)
}

func (e *Encoder) encodeStrings(col schema.ColumnDescriptor, strs []string, h *Header, body []byte) []byte {
	h.Stats.Min, h.Stats.Max = stringMinMax(col.Type, strs)

	dict, ids, err := buildDictionary(strs, e.cfg.DictionaryMaxEntries)
	overflow := isOverflow(err)
	if overflow {
		h.Stats.DistinctCount = estimateDistinctStrings(strs)
	} else {
		h.Stats.DistinctCount = uint64(len(dict.values))
		h.Stats.DistinctExact = true
	}

	if col.Encoding != schema.HintPlain && len(strs) > 0 {
		switch {
		case overflow:
			h.DictionaryFallback = true
		case e.useDictionary(len(dict.values), len(strs)):
			h.Encoding = KindDictionary
			width := indexWidth(len(dict.values))
			body = binary.AppendUvarint(body, uint64(len(dict.values)))
			body = appendStrings(body, dict.values)
			body = append(body, byte(width))
			return appendHybrid(body, ids, width)
		}
	}

	h.Encoding = KindPlain
	return appendStrings(body, strs)
}

func (e *Encoder) encodeBools(col schema.ColumnDescriptor, vals []bool, h *Header, body []byte) []byte {
	h.Stats.DistinctCount = distinctBools(vals)
	h.Stats.DistinctExact = true

	if col.Encoding == schema.HintRLE && rleWorthwhile(countRuns(vals), len(vals)) {
		h.Encoding = KindRLE
		return appendRLEBools(body, vals)
	}
	h.Encoding = KindPlain
	return append(body, packBools(vals)...)
}

// rleWorthwhile requires an average run length of at least two.
func rleWorthwhile(runs, n int) bool {
	return n > 0 && runs*2 <= n
}

func isOverflow(err error) bool {
	var overflow *encodingOverflowError
	return errors.As(err, &overflow)
}
