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

var errShortBuffer = errors.New("colencode: short buffer")

// Fixed-width values are 8 bytes little-endian each.
func appendWords(dst []byte, words []uint64) []byte {
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint64(dst, w)
	}
	return dst
}

func readWords(src []byte, n int) ([]uint64, int, error) {
	if len(src) < n*8 {
		return nil, 0, errShortBuffer
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(src[i*8:])
	}
	return out, n * 8, nil
}

// Variable-width values are a uvarint length followed by the raw bytes.
func appendStrings(dst []byte, strs []string) []byte {
	for _, s := range strs {
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		dst = append(dst, s...)
	}
	return dst
}

func readStrings(src []byte, n int) ([]string, int, error) {
	out := make([]string, n)
	pos := 0
	for i := range out {
		l, k := binary.Uvarint(src[pos:])
		if k <= 0 {
			return nil, 0, errShortBuffer
		}
		pos += k
		if uint64(len(src)-pos) < l {
			return nil, 0, errShortBuffer
		}
		out[i] = string(src[pos : pos+int(l)])
		pos += int(l)
	}
	return out, pos, nil
}
