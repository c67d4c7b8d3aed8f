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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/lakewriter/internal/schema"
)

// ErrChecksumMismatch is returned when chunk bytes do not match the stored checksum.
var ErrChecksumMismatch = errors.New("colencode: chunk checksum mismatch")

// Decode reverses Encode, returning the chunk's values as a vector.
func Decode(c *Chunk) (*Vector, error) {
	if len(c.Data) != c.Size || xxhash.Sum64(c.Data) != c.Checksum {
		return nil, fmt.Errorf("column %q: %w", c.Column, ErrChecksumMismatch)
	}

	body := c.Data
	if c.Compressed {
		raw, err := decompressBody(c.Codec, c.Data, c.UncompressedSize)
		if err != nil {
			return nil, fmt.Errorf("colencode: decompress column %q: %w", c.Column, err)
		}
		body = raw
	}
	if len(body) != c.UncompressedSize {
		return nil, fmt.Errorf("colencode: column %q: body is %d bytes, header says %d", c.Column, len(body), c.UncompressedSize)
	}

	v := &Vector{typ: c.Type}
	payload, err := readPresence(body, c.NumValues, v)
	if err != nil {
		return nil, fmt.Errorf("colencode: column %q presence: %w", c.Column, err)
	}
	if v.nulls != c.Stats.NullCount {
		return nil, fmt.Errorf("colencode: column %q: bitmap has %d nulls, header says %d", c.Column, v.nulls, c.Stats.NullCount)
	}

	n := v.nonNull()
	switch c.Type {
	case schema.TypeInt, schema.TypeTimestamp, schema.TypeFloat:
		v.words, err = decodeWords(c.Encoding, payload, n)
	case schema.TypeText, schema.TypeBytes:
		v.strs, err = decodeStrings(c.Encoding, payload, n)
	case schema.TypeBool:
		v.bools, err = decodeBools(c.Encoding, payload, n)
	default:
		err = fmt.Errorf("unsupported column type %s", c.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("colencode: column %q %s payload: %w", c.Column, c.Encoding, err)
	}
	return v, nil
}

func readPresence(body []byte, numValues int, v *Vector) ([]byte, error) {
	l, k := binary.Uvarint(body)
	if k <= 0 {
		return nil, errShortBuffer
	}
	pos := k
	if l == 0 {
		v.present = make([]bool, numValues)
		for i := range v.present {
			v.present[i] = true
		}
		return body[pos:], nil
	}
	if uint64(len(body)-pos) < l {
		return nil, errShortBuffer
	}
	present, err := unpackBools(body[pos:pos+int(l)], numValues)
	if err != nil {
		return nil, err
	}
	v.present = present
	for _, ok := range present {
		if !ok {
			v.nulls++
		}
	}
	return body[pos+int(l):], nil
}

func decodeWords(kind Kind, payload []byte, n int) ([]uint64, error) {
	switch kind {
	case KindPlain:
		words, _, err := readWords(payload, n)
		return words, err
	case KindRLE:
		return readRLEInts(payload, n)
	case KindDictionary:
		size, rest, err := readDictionarySize(payload)
		if err != nil {
			return nil, err
		}
		table, used, err := readWords(rest, size)
		if err != nil {
			return nil, err
		}
		ids, err := readIndices(rest[used:], n, size)
		if err != nil {
			return nil, err
		}
		out := make([]uint64, n)
		for i, id := range ids {
			out[i] = table[id]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding %s", kind)
	}
}

func decodeStrings(kind Kind, payload []byte, n int) ([]string, error) {
	switch kind {
	case KindPlain:
		strs, _, err := readStrings(payload, n)
		return strs, err
	case KindDictionary:
		size, rest, err := readDictionarySize(payload)
		if err != nil {
			return nil, err
		}
		table, used, err := readStrings(rest, size)
		if err != nil {
			return nil, err
		}
		ids, err := readIndices(rest[used:], n, size)
		if err != nil {
			return nil, err
		}
		out := make([]string, n)
		for i, id := range ids {
			out[i] = table[id]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding %s", kind)
	}
}

func decodeBools(kind Kind, payload []byte, n int) ([]bool, error) {
	switch kind {
	case KindPlain:
		return unpackBools(payload, n)
	case KindRLE:
		return readRLEBools(payload, n)
	default:
		return nil, fmt.Errorf("unknown encoding %s", kind)
	}
}

// readDictionarySize returns the table size and the bytes that follow it:
// the table entries, one index width byte, then the hybrid-encoded indices.
func readDictionarySize(payload []byte) (int, []byte, error) {
	s, k := binary.Uvarint(payload)
	if k <= 0 {
		return 0, nil, errShortBuffer
	}
	return int(s), payload[k:], nil
}

func readIndices(src []byte, n, size int) ([]uint32, error) {
	if len(src) < 1 {
		return nil, errShortBuffer
	}
	width := int(src[0])
	if width != indexWidth(size) {
		return nil, errCorruptIndices
	}
	ids, err := decodeHybrid(src[1:], n, width)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if int(id) >= size {
			return nil, errCorruptIndices
		}
	}
	return ids, nil
}
