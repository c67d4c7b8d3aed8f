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

// Dictionary indices use an RLE / bit-packed hybrid. Each section starts
// with a uvarint header h:
//
//	h&1 == 0: a repeated run of h>>1 copies of one index, stored in
//	          ceil(width/8) little-endian bytes
//	h&1 == 1: h>>1 groups of 8 indices, each packed in width bits
//
// Trailing slots of the last bit-packed group are zero padded.
const minRepeatRun = 8

var errCorruptIndices = errors.New("colencode: corrupt dictionary indices")

func runLength(vals []uint32, i int) int {
	j := i + 1
	for j < len(vals) && vals[j] == vals[i] {
		j++
	}
	return j - i
}

func appendHybrid(dst []byte, vals []uint32, width int) []byte {
	byteWidth := (width + 7) / 8
	n := len(vals)
	for i := 0; i < n; {
		if run := runLength(vals, i); run >= minRepeatRun {
			dst = binary.AppendUvarint(dst, uint64(run)<<1)
			for b := range byteWidth {
				dst = append(dst, byte(vals[i]>>(8*b)))
			}
			i += run
			continue
		}

		start := i
		groups := 0
		for i < n && runLength(vals, i) < minRepeatRun {
			i += 8
			groups++
		}
		if i > n {
			i = n
		}
		dst = binary.AppendUvarint(dst, uint64(groups)<<1|1)
		w := &bitWriter{}
		for k := range groups * 8 {
			var v uint32
			if start+k < n {
				v = vals[start+k]
			}
			w.writeBits(uint64(v), width)
		}
		dst = append(dst, w.bytes()...)
	}
	return dst
}

func decodeHybrid(src []byte, n int, width int) ([]uint32, error) {
	byteWidth := (width + 7) / 8
	out := make([]uint32, 0, n)
	pos := 0
	for len(out) < n {
		h, k := binary.Uvarint(src[pos:])
		if k <= 0 {
			return nil, errCorruptIndices
		}
		pos += k

		if h&1 == 0 {
			run := int(h >> 1)
			if run == 0 || run > n-len(out) || pos+byteWidth > len(src) {
				return nil, errCorruptIndices
			}
			var v uint32
			for b := range byteWidth {
				v |= uint32(src[pos+b]) << (8 * b)
			}
			pos += byteWidth
			for range run {
				out = append(out, v)
			}
			continue
		}

		count := int(h>>1) * 8
		nbytes := (count*width + 7) / 8
		if count == 0 || pos+nbytes > len(src) {
			return nil, errCorruptIndices
		}
		r := newBitReader(src[pos : pos+nbytes])
		for range count {
			v, err := r.readBits(width)
			if err != nil {
				return nil, errCorruptIndices
			}
			if len(out) < n {
				out = append(out, uint32(v))
			}
		}
		pos += nbytes
	}
	return out, nil
}
