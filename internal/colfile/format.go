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

// Package colfile writes and reads immutable column files.
//
// File layout:
//
//	[row group 0 chunks][row group 1 chunks]...
//	[footer: CBOR]
//	[footer xxhash64: uint64 LE]
//	[footer length: uint32 LE]
//	[magic: uint32 LE]
//
// Row group bytes are the column chunks back to back in schema order. The
// footer records every chunk's header, offset and statistics, so a reader
// needs only the trailer to locate anything in the file.
package colfile

import (
	"errors"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

const (
	// Magic ends every column file ("LWC1").
	Magic uint32 = 0x3143574c

	// FormatVersion is written into every footer.
	FormatVersion = 1

	trailerSize = 8 + 4 + 4
)

var (
	// ErrWriterClosed is returned by writes after Close.
	ErrWriterClosed = errors.New("colfile: writer is already closed")

	// ErrNotColumnFile is returned when the trailer magic is missing.
	ErrNotColumnFile = errors.New("colfile: not a column file")

	// ErrCorruptFooter is returned when the footer fails its checksum or decode.
	ErrCorruptFooter = errors.New("colfile: corrupt footer")
)

// Footer describes every row group in a file.
type Footer struct {
	Version   int              `cbor:"version"`
	Schema    schema.RawSchema `cbor:"schema"`
	NumRows   int64            `cbor:"rows"`
	RowGroups []RowGroupMeta   `cbor:"row_groups"`
}

// RowGroupMeta locates one row group.
type RowGroupMeta struct {
	Index   int         `cbor:"index"`
	NumRows int         `cbor:"rows"`
	Offset  int64       `cbor:"offset"`
	Size    int64       `cbor:"size"`
	Columns []ChunkMeta `cbor:"columns"`
}

// ChunkMeta is a chunk header plus its absolute file offset.
type ChunkMeta struct {
	Offset int64            `cbor:"offset"`
	Header colencode.Header `cbor:"header"`
}
