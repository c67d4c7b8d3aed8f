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

package cbor

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	require.NotNil(t, config.encMode)
	require.NotNil(t, config.decMode)
}

func TestCBOR_AnyTypes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "a", "a"},
		{"empty string", "", ""},
		{"bool", true, true},
		{"nil", nil, nil},
		{"positive int", int64(3), int64(3)},
		{"max int", int64(math.MaxInt64), int64(math.MaxInt64)},
		{"min int", int64(math.MinInt64), int64(math.MinInt64)},
		{"int32 widens", int32(-7), int64(-7)},
		{"float64", 1.0, 1.0},
		{"float32 widens", float32(0.5), 0.5},
		{"bytes", []byte{0, 1}, []byte{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.in)
			require.NoError(t, err)
			var got any
			require.NoError(t, Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCBOR_MapsDeterministic(t *testing.T) {
	m := map[string]any{"z": 1, "a": 2, "m": map[string]any{"y": 1, "b": 2}}
	first, err := Marshal(m)
	require.NoError(t, err)
	for range 20 {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again))
	}

	var got any
	require.NoError(t, Unmarshal(first, &got))
	assert.IsType(t, map[string]any{}, got)
}

func TestCBOR_StructTags(t *testing.T) {
	type record struct {
		Job   string `cbor:"job"`
		Count int64  `cbor:"count,omitempty"`
	}
	data, err := Marshal(record{Job: "j"})
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, Unmarshal(data, &asMap))
	assert.Equal(t, map[string]any{"job": "j"}, asMap)

	var back record
	require.NoError(t, Unmarshal(data, &back))
	assert.Equal(t, record{Job: "j"}, back)
}

func TestCBOR_TrailingBytesRejected(t *testing.T) {
	a, err := Marshal("a")
	require.NoError(t, err)
	b, err := Marshal(int64(2))
	require.NoError(t, err)

	var s string
	require.Error(t, Unmarshal(append(a, b...), &s))
}
