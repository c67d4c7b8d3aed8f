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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Valid(t *testing.T) {
	s, err := Resolve(RawSchema{Columns: []RawColumn{
		{Name: "ID", Type: "int"},
		{Name: "name", Type: "string", Nullable: true, Encoding: "dictionary"},
		{Name: "active", Type: "boolean", Encoding: "rle"},
		{Name: "ts", Type: "timestamp"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []string{"id", "name", "active", "ts"}, s.Names())

	idx, ok := s.Index("name")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	name := s.Column(idx)
	assert.Equal(t, TypeText, name.Type)
	assert.True(t, name.Nullable)
	assert.Equal(t, HintDictionary, name.Encoding)
	assert.Equal(t, HintRLE, s.Column(2).Encoding)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawSchema
		column  string
		wantMsg string
	}{
		{
			name:    "no columns",
			raw:     RawSchema{},
			wantMsg: "at least one column",
		},
		{
			name: "duplicate after lower-casing",
			raw: RawSchema{Columns: []RawColumn{
				{Name: "Name", Type: "text"},
				{Name: "name", Type: "text"},
			}},
			column:  "name",
			wantMsg: "duplicate",
		},
		{
			name:    "unknown type",
			raw:     RawSchema{Columns: []RawColumn{{Name: "x", Type: "decimal"}}},
			column:  "x",
			wantMsg: "unknown logical type",
		},
		{
			name:    "unknown hint",
			raw:     RawSchema{Columns: []RawColumn{{Name: "x", Type: "int", Encoding: "delta"}}},
			column:  "x",
			wantMsg: "unknown encoding hint",
		},
		{
			name:    "rle on text",
			raw:     RawSchema{Columns: []RawColumn{{Name: "x", Type: "text", Encoding: "rle"}}},
			column:  "x",
			wantMsg: "rle encoding",
		},
		{
			name:    "blank name",
			raw:     RawSchema{Columns: []RawColumn{{Name: "  ", Type: "int"}}},
			wantMsg: "blank name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Resolve(tt.raw)
			require.Nil(t, s)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.column, schemaErr.Column)
			assert.Contains(t, schemaErr.Error(), tt.wantMsg)
		})
	}
}

func TestSchema_ColumnsIsCopy(t *testing.T) {
	s := MustResolve(RawSchema{Columns: []RawColumn{{Name: "a", Type: "int"}}})
	cols := s.Columns()
	cols[0].Name = "mutated"
	assert.Equal(t, "a", s.Column(0).Name)
}

func TestSchema_RawRoundTrip(t *testing.T) {
	s := MustResolve(RawSchema{Columns: []RawColumn{
		{Name: "a", Type: "int", Encoding: "rle"},
		{Name: "b", Type: "bytes", Nullable: true},
	}})
	again, err := Resolve(s.Raw())
	require.NoError(t, err)
	assert.Equal(t, s.Columns(), again.Columns())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := `
columns:
  - name: id
    type: int
  - name: name
    type: text
    nullable: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, s.Names())
	assert.False(t, s.Column(0).Nullable)
	assert.True(t, s.Column(1).Nullable)
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("columns: [\n"))
	require.Error(t, err)
}
