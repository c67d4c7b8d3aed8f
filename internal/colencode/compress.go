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
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the byte-stream codec applied to an encoded chunk body.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionZstd   Compression = "zstd"
	CompressionS2     Compression = "s2"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionGzip   Compression = "gzip"
)

// ParseCompression maps a codec name to a Compression. The empty string is none.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(name))); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionZstd, CompressionS2, CompressionSnappy, CompressionLZ4, CompressionGzip:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported compression %q", name)
	}
}

// zstd encoders allocate large history buffers; keep a pool and a single
// shared decoder rather than building them per chunk.
var (
	zstdEncoders = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil,
				zstd.WithZeroFrames(true),
				zstd.WithEncoderLevel(zstd.SpeedDefault),
				zstd.WithEncoderConcurrency(1),
			)
			return enc
		},
	}
	zstdDecoder     *zstd.Decoder
	zstdDecoderOnce sync.Once
)

func getZstdDecoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdDecoder
}

// compressBody applies c to src. It returns src unchanged and false when the
// codec is none or the result would not be smaller.
func compressBody(c Compression, src []byte) ([]byte, bool, error) {
	var out []byte
	switch c {
	case CompressionNone, "":
		return src, false, nil
	case CompressionZstd:
		enc := zstdEncoders.Get().(*zstd.Encoder)
		out = enc.EncodeAll(src, nil)
		zstdEncoders.Put(enc)
	case CompressionS2:
		out = s2.Encode(nil, src)
	case CompressionSnappy:
		out = snappy.Encode(nil, src)
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, false, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return src, false, nil
		}
		out = dst[:n]
	case CompressionGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return nil, false, fmt.Errorf("gzip writer: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, false, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, false, fmt.Errorf("gzip close: %w", err)
		}
		out = buf.Bytes()
	default:
		return nil, false, fmt.Errorf("unsupported compression %q", c)
	}
	if len(out) >= len(src) {
		return src, false, nil
	}
	return out, true, nil
}

// decompressBody reverses compressBody. rawSize is the uncompressed length
// recorded in the chunk header.
func decompressBody(c Compression, src []byte, rawSize int) ([]byte, error) {
	switch c {
	case CompressionZstd:
		return getZstdDecoder().DecodeAll(src, make([]byte, 0, rawSize))
	case CompressionS2:
		return s2.Decode(make([]byte, rawSize), src)
	case CompressionSnappy:
		return snappy.Decode(make([]byte, rawSize), src)
	case CompressionLZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		out := bytes.NewBuffer(make([]byte, 0, rawSize))
		if _, err := io.Copy(out, r); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}
