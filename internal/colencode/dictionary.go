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
	"math/bits"
)

// encodingOverflowError is raised while building a dictionary that grows
// past its entry cap. The encoder always recovers from it by encoding the
// whole chunk plain.
type encodingOverflowError struct {
	Limit int
}

func (e *encodingOverflowError) Error() string {
	return fmt.Sprintf("colencode: dictionary exceeded %d entries", e.Limit)
}

// dictionary assigns indices in first-appearance order, which keeps the
// table layout a pure function of the input sequence.
type dictionary[T comparable] struct {
	index  map[T]uint32
	values []T
}

func buildDictionary[T comparable](vals []T, maxEntries int) (*dictionary[T], []uint32, error) {
	d := &dictionary[T]{index: make(map[T]uint32)}
	ids := make([]uint32, len(vals))
	for i, v := range vals {
		id, ok := d.index[v]
		if !ok {
			if len(d.values) >= maxEntries {
				return nil, nil, &encodingOverflowError{Limit: maxEntries}
			}
			id = uint32(len(d.values))
			d.index[v] = id
			d.values = append(d.values, v)
		}
		ids[i] = id
	}
	return d, ids, nil
}

// indexWidth is the number of bits needed for indices into a table of size n.
func indexWidth(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len32(uint32(n - 1))
}
