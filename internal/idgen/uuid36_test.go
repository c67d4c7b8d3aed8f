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

package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUUIDToBase36(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"123e4567-e89b-12d3-a456-426614174001", "12vqjrnxk8whv3i8qi6qgrlz5"},
		{"00000000-0000-0000-0000-000000000000", "0000000000000000000000000"},
		{"00000000-0000-0000-0000-000000000100", "0000000000000000000000074"},
		{"ffffffff-ffff-ffff-ffff-ffffffffffff", "f5lxx1zz5pnorynqglhzmsp33"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, UUIDToBase36(uuid.MustParse(tt.id)))
		})
	}
}

func TestNewInstanceID(t *testing.T) {
	a, b := NewInstanceID(), NewInstanceID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 25)
	assert.Equal(t, -1, strings.IndexFunc(a, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'a' || r > 'z')
	}))
}
