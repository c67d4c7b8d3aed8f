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

// Package schema holds the typed column model shared by the encoder, the
// row-group buffer and the file writer. A Schema is immutable once resolved
// and is passed around by pointer as a read-only value.
package schema

import (
	"fmt"
	"strings"
)

// RawColumn is an unresolved column declaration, as read from a schema file
// or built by a caller.
type RawColumn struct {
	Name     string `yaml:"name" cbor:"name"`
	Type     string `yaml:"type" cbor:"type"`
	Nullable bool   `yaml:"nullable" cbor:"nullable"`
	Encoding string `yaml:"encoding,omitempty" cbor:"encoding,omitempty"`
}

// RawSchema is an ordered list of unresolved column declarations.
type RawSchema struct {
	Columns []RawColumn `yaml:"columns" cbor:"columns"`
}

// ColumnDescriptor is a resolved column.
type ColumnDescriptor struct {
	Name     string
	Type     LogicalType
	Nullable bool
	Encoding EncodingHint
}

// Schema is an ordered, immutable set of columns. Column order is the
// on-disk column order.
type Schema struct {
	columns []ColumnDescriptor
	index   map[string]int
}

// SchemaError reports why a raw schema could not be resolved.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: column %q: %s", e.Column, e.Reason)
}

// Resolve validates raw and returns the resolved Schema. Names are
// lower-cased before the uniqueness check.
func Resolve(raw RawSchema) (*Schema, error) {
	if len(raw.Columns) == 0 {
		return nil, &SchemaError{Reason: "at least one column is required"}
	}

	s := &Schema{
		columns: make([]ColumnDescriptor, 0, len(raw.Columns)),
		index:   make(map[string]int, len(raw.Columns)),
	}
	for i, rc := range raw.Columns {
		name := strings.ToLower(strings.TrimSpace(rc.Name))
		if name == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("column %d has a blank name", i)}
		}
		if _, dup := s.index[name]; dup {
			return nil, &SchemaError{Column: name, Reason: "duplicate column name"}
		}
		typ, ok := ParseLogicalType(rc.Type)
		if !ok {
			return nil, &SchemaError{Column: name, Reason: fmt.Sprintf("unknown logical type %q", rc.Type)}
		}
		hint, ok := ParseEncodingHint(rc.Encoding)
		if !ok {
			return nil, &SchemaError{Column: name, Reason: fmt.Sprintf("unknown encoding hint %q", rc.Encoding)}
		}
		if hint == HintRLE && typ != TypeBool && typ != TypeInt {
			return nil, &SchemaError{Column: name, Reason: "rle encoding applies to bool and int columns only"}
		}

		s.index[name] = len(s.columns)
		s.columns = append(s.columns, ColumnDescriptor{
			Name:     name,
			Type:     typ,
			Nullable: rc.Nullable,
			Encoding: hint,
		})
	}
	return s, nil
}

// MustResolve is Resolve for schemas known to be valid, such as test fixtures.
func MustResolve(raw RawSchema) *Schema {
	s, err := Resolve(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Column returns the i-th column.
func (s *Schema) Column(i int) ColumnDescriptor {
	return s.columns[i]
}

// Columns returns a copy of the column list.
func (s *Schema) Columns() []ColumnDescriptor {
	out := make([]ColumnDescriptor, len(s.columns))
	copy(out, s.columns)
	return out
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Raw converts the schema back to its declaration form, as stored in file footers.
func (s *Schema) Raw() RawSchema {
	raw := RawSchema{Columns: make([]RawColumn, len(s.columns))}
	for i, c := range s.columns {
		raw.Columns[i] = RawColumn{
			Name:     c.Name,
			Type:     c.Type.String(),
			Nullable: c.Nullable,
		}
		if c.Encoding != HintAuto {
			raw.Columns[i].Encoding = c.Encoding.String()
		}
	}
	return raw
}
