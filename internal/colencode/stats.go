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
	"math"

	"github.com/axiomhq/hyperloglog"

	"github.com/cardinalhq/lakewriter/internal/schema"
)

// wordMinMax returns min/max for int, timestamp and float words. NaNs are
// ignored; a float column of only NaNs has no min/max.
func wordMinMax(typ schema.LogicalType, words []uint64) (minVal, maxVal any) {
	if typ == schema.TypeFloat {
		found := false
		var lo, hi float64
		for _, w := range words {
			f := math.Float64frombits(w)
			if math.IsNaN(f) {
				continue
			}
			if !found {
				lo, hi, found = f, f, true
				continue
			}
			lo = min(lo, f)
			hi = max(hi, f)
		}
		if !found {
			return nil, nil
		}
		return lo, hi
	}

	if len(words) == 0 {
		return nil, nil
	}
	lo, hi := int64(words[0]), int64(words[0])
	for _, w := range words[1:] {
		lo = min(lo, int64(w))
		hi = max(hi, int64(w))
	}
	return lo, hi
}

// stringMinMax returns byte-wise min/max for text and bytes columns.
func stringMinMax(typ schema.LogicalType, strs []string) (minVal, maxVal any) {
	if len(strs) == 0 {
		return nil, nil
	}
	lo, hi := strs[0], strs[0]
	for _, s := range strs[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	if typ == schema.TypeBytes {
		return []byte(lo), []byte(hi)
	}
	return lo, hi
}

func estimateDistinctWords(words []uint64) uint64 {
	sk := hyperloglog.New14()
	var buf [8]byte
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf[:], w)
		sk.Insert(buf[:])
	}
	return sk.Estimate()
}

func estimateDistinctStrings(strs []string) uint64 {
	sk := hyperloglog.New14()
	for _, s := range strs {
		sk.Insert([]byte(s))
	}
	return sk.Estimate()
}

func distinctBools(vals []bool) uint64 {
	var seenTrue, seenFalse bool
	for _, v := range vals {
		if v {
			seenTrue = true
		} else {
			seenFalse = true
		}
		if seenTrue && seenFalse {
			return 2
		}
	}
	if seenTrue || seenFalse {
		return 1
	}
	return 0
}
