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
)

// Run-length payloads: uvarint run count, then per run a uvarint length and
// the value (one byte for bools, a zigzag varint for ints).

var errCorruptRuns = errors.New("colencode: corrupt run-length data")

func countRuns[T comparable](vals []T) int {
	if len(vals) == 0 {
		return 0
	}
	runs := 1
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			runs++
		}
	}
	return runs
}

func appendRLEInts(dst []byte, words []uint64) []byte {
	dst = binary.AppendUvarint(dst, uint64(countRuns(words)))
	for i := 0; i < len(words); {
		j := i + 1
		for j < len(words) && words[j] == words[i] {
			j++
		}
		dst = binary.AppendUvarint(dst, uint64(j-i))
		dst = binary.AppendVarint(dst, int64(words[i]))
		i = j
	}
	return dst
}

func readRLEInts(src []byte, n int) ([]uint64, error) {
	runs, k := binary.Uvarint(src)
	if k <= 0 {
		return nil, errCorruptRuns
	}
	pos := k
	out := make([]uint64, 0, n)
	for range runs {
		l, k := binary.Uvarint(src[pos:])
		if k <= 0 {
			return nil, errCorruptRuns
		}
		pos += k
		v, k := binary.Varint(src[pos:])
		if k <= 0 {
			return nil, errCorruptRuns
		}
		pos += k
		if l == 0 || l > uint64(n-len(out)) {
			return nil, errCorruptRuns
		}
		for range l {
			out = append(out, uint64(v))
		}
	}
	if len(out) != n {
		return nil, errCorruptRuns
	}
	return out, nil
}

func appendRLEBools(dst []byte, vals []bool) []byte {
	dst = binary.AppendUvarint(dst, uint64(countRuns(vals)))
	for i := 0; i < len(vals); {
		j := i + 1
		for j < len(vals) && vals[j] == vals[i] {
			j++
		}
		dst = binary.AppendUvarint(dst, uint64(j-i))
		if vals[i] {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
		i = j
	}
	return dst
}

func readRLEBools(src []byte, n int) ([]bool, error) {
	runs, k := binary.Uvarint(src)
	if k <= 0 {
		return nil, errCorruptRuns
	}
	pos := k
	out := make([]bool, 0, n)
	for range runs {
		l, k := binary.Uvarint(src[pos:])
		if k <= 0 || pos+k >= len(src) {
			return nil, errCorruptRuns
		}
		pos += k
		v := src[pos] == 1
		pos++
		if l == 0 || l > uint64(n-len(out)) {
			return nil, errCorruptRuns
		}
		for range l {
			out = append(out, v)
		}
	}
	if len(out) != n {
		return nil, errCorruptRuns
	}
	return out, nil
}
