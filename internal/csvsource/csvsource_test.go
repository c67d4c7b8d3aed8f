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

package csvsource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

func spanSchema() *schema.Schema {
	return schema.MustResolve(schema.RawSchema{Columns: []schema.RawColumn{
		{Name: "id", Type: "int"},
		{Name: "name", Type: "text", Nullable: true},
		{Name: "duration", Type: "float", Nullable: true},
		{Name: "ok", Type: "bool", Nullable: true},
		{Name: "ts", Type: "timestamp", Nullable: true},
		{Name: "trace", Type: "bytes", Nullable: true},
	}})
}

func readAll(t *testing.T, src *Source) ([]rowgroup.Row, []*rowgroup.RowValidationError) {
	t.Helper()
	var rows []rowgroup.Row
	var rejected []*rowgroup.RowValidationError
	for {
		row, err := src.Next(context.Background())
		if err == io.EOF {
			return rows, rejected
		}
		if verr, ok := err.(*rowgroup.RowValidationError); ok {
			rejected = append(rejected, verr)
			continue
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestSource_TypedRows(t *testing.T) {
	input := "ID,Name,Duration,OK,TS,Trace\n" +
		"1,alpha,1.5,true,2025-06-01T12:00:00Z,AQID\n" +
		"2,,,,,\n" +
		"3,\"with, comma\",2,false,1748779200000000000,\n"

	src, err := New(strings.NewReader(input), spanSchema())
	require.NoError(t, err)
	rows, rejected := readAll(t, src)
	assert.Empty(t, rejected)
	require.Len(t, rows, 3)

	assert.Equal(t, rowgroup.Row{
		"id":       int64(1),
		"name":     "alpha",
		"duration": 1.5,
		"ok":       true,
		"ts":       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		"trace":    []byte{1, 2, 3},
	}, rows[0])
	assert.Equal(t, rowgroup.Row{"id": int64(2)}, rows[1])
	assert.Equal(t, "with, comma", rows[2]["name"])
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), rows[2]["ts"])
	assert.Equal(t, int64(3), src.Rows())
}

func TestSource_BadFieldsAreRejected(t *testing.T) {
	input := "id,name\n" +
		"1,a\n" +
		"x,b\n" +
		"3\n" +
		"4,d\n"
	s := schema.MustResolve(schema.RawSchema{Columns: []schema.RawColumn{
		{Name: "id", Type: "int"},
		{Name: "name", Type: "text", Nullable: true},
	}})

	src, err := New(strings.NewReader(input), s)
	require.NoError(t, err)
	rows, rejected := readAll(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[1]["id"])

	require.Len(t, rejected, 2)
	assert.Equal(t, int64(1), rejected[0].Row)
	assert.Equal(t, "id", rejected[0].Column)
	assert.Equal(t, int64(2), rejected[1].Row)
	assert.Contains(t, rejected[1].Reason, "fields")
}

func TestNew_HeaderChecks(t *testing.T) {
	s := schema.MustResolve(schema.RawSchema{Columns: []schema.RawColumn{
		{Name: "id", Type: "int"},
		{Name: "name", Type: "text", Nullable: true},
	}})

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "no header"},
		{"unknown column", "id,other\n", "not in the schema"},
		{"duplicate column", "id,ID\n", "twice"},
		{"missing required", "name\n", "missing"},
		{"nullable may be absent", "id\n1\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(strings.NewReader(tt.input), s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpen_Gzip(t *testing.T) {
	s := schema.MustResolve(schema.RawSchema{Columns: []schema.RawColumn{{Name: "id", Type: "int"}}})
	path := filepath.Join(t.TempDir(), "rows.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("id\n7\n8\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	src, err := Open(path, s)
	require.NoError(t, err)
	rows, rejected := readAll(t, src)
	assert.Empty(t, rejected)
	assert.Equal(t, []rowgroup.Row{{"id": int64(7)}, {"id": int64(8)}}, rows)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		typ     schema.LogicalType
		field   string
		want    any
		wantErr bool
	}{
		{schema.TypeInt, "", nil, false},
		{schema.TypeInt, " 42 ", int64(42), false},
		{schema.TypeInt, "4.2", nil, true},
		{schema.TypeFloat, "-0.25", -0.25, false},
		{schema.TypeFloat, "abc", nil, true},
		{schema.TypeText, " padded ", " padded ", false},
		{schema.TypeBool, "TRUE", true, false},
		{schema.TypeBool, "yes", nil, true},
		{schema.TypeTimestamp, "0", time.Unix(0, 0).UTC(), false},
		{schema.TypeTimestamp, "yesterday", nil, true},
		{schema.TypeTimestamp, "3000-01-01T00:00:00Z", nil, true},
		{schema.TypeTimestamp, "2262-04-11T23:47:16Z", time.Date(2262, 4, 11, 23, 47, 16, 0, time.UTC), false},
		{schema.TypeBytes, "AAE=", []byte{0, 1}, false},
		{schema.TypeBytes, "!!", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String()+"/"+tt.field, func(t *testing.T) {
			got, err := ParseValue(tt.typ, tt.field)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
