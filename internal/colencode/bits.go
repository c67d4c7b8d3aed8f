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

import "errors"

var errOutOfBits = errors.New("colencode: out of bits")

// bitWriter packs values MSB-first into a byte slice.
type bitWriter struct {
	buf   []byte
	curr  byte
	nbits uint8
}

func (w *bitWriter) writeBit(bit bool) {
	w.curr <<= 1
	if bit {
		w.curr |= 1
	}
	w.nbits++
	if w.nbits == 8 {
		w.buf = append(w.buf, w.curr)
		w.curr = 0
		w.nbits = 0
	}
}

func (w *bitWriter) writeBits(value uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		w.writeBit((value>>uint(i))&1 == 1)
	}
}

// bytes flushes any partial byte, zero padded, and returns the buffer.
func (w *bitWriter) bytes() []byte {
	if w.nbits > 0 {
		w.buf = append(w.buf, w.curr<<(8-w.nbits))
		w.curr = 0
		w.nbits = 0
	}
	return w.buf
}

type bitReader struct {
	buf   []byte
	index int
	curr  byte
	nbits uint8
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{buf: data}
}

func (r *bitReader) readBit() (bool, error) {
	if r.nbits == 0 {
		if r.index >= len(r.buf) {
			return false, errOutOfBits
		}
		r.curr = r.buf[r.index]
		r.index++
		r.nbits = 8
	}
	bit := r.curr&0x80 != 0
	r.curr <<= 1
	r.nbits--
	return bit, nil
}

func (r *bitReader) readBits(width int) (uint64, error) {
	var out uint64
	for range width {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		out <<= 1
		if bit {
			out |= 1
		}
	}
	return out, nil
}

// packBools encodes one bit per value.
func packBools(values []bool) []byte {
	w := &bitWriter{buf: make([]byte, 0, (len(values)+7)/8)}
	for _, v := range values {
		w.writeBit(v)
	}
	return w.bytes()
}

// unpackBools decodes n bits written by packBools.
func unpackBools(data []byte, n int) ([]bool, error) {
	if len(data) < (n+7)/8 {
		return nil, errOutOfBits
	}
	r := newBitReader(data)
	out := make([]bool, n)
	for i := range out {
		bit, err := r.readBit()
		if err != nil {
			return nil, err
		}
		out[i] = bit
	}
	return out, nil
}
