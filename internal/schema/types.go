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

package schema

import (
	"fmt"
	"strings"
)

// LogicalType is the value type of a column.
type LogicalType uint8

const (
	TypeInt LogicalType = iota + 1
	TypeFloat
	TypeText
	TypeBool
	TypeTimestamp
	TypeBytes
)

func (t LogicalType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Orderable reports whether min/max statistics are tracked for the type.
func (t LogicalType) Orderable() bool {
	switch t {
	case TypeInt, TypeFloat, TypeText, TypeTimestamp, TypeBytes:
		return true
	default:
		return false
	}
}

// ParseLogicalType maps a type name to a LogicalType. A few common aliases
// are accepted so hand-written schema files stay forgiving.
func ParseLogicalType(name string) (LogicalType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "long", "int64":
		return TypeInt, true
	case "float", "double", "float64":
		return TypeFloat, true
	case "text", "string":
		return TypeText, true
	case "bool", "boolean":
		return TypeBool, true
	case "timestamp", "time":
		return TypeTimestamp, true
	case "bytes", "binary", "id":
		return TypeBytes, true
	default:
		return 0, false
	}
}

// EncodingHint is an optional per-column preference for the column encoder.
type EncodingHint uint8

const (
	HintAuto EncodingHint = iota
	HintPlain
	HintDictionary
	HintRLE
)

func (h EncodingHint) String() string {
	switch h {
	case HintAuto:
		return "auto"
	case HintPlain:
		return "plain"
	case HintDictionary:
		return "dictionary"
	case HintRLE:
		return "rle"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

// ParseEncodingHint maps a hint name to an EncodingHint. The empty string is auto.
func ParseEncodingHint(name string) (EncodingHint, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return HintAuto, true
	case "plain":
		return HintPlain, true
	case "dictionary", "dict":
		return HintDictionary, true
	case "rle", "run-length", "runlength":
		return HintRLE, true
	default:
		return 0, false
	}
}
