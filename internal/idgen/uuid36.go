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
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NewInstanceID returns a random id for this process, recorded in commit
// records to tell which coordinator wrote them.
func NewInstanceID() string {
	return UUIDToBase36(uuid.New())
}

// UUIDToBase36 renders id as a fixed 25 character lower-case base36 string.
func UUIDToBase36(id uuid.UUID) string {
	const fixedLength = 25
	s := new(big.Int).SetBytes(id[:]).Text(36)
	if len(s) < fixedLength {
		s = strings.Repeat("0", fixedLength-len(s)) + s
	}
	return s
}
