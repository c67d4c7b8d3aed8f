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

// Package cbor holds the CBOR modes used for column file footers and commit
// records.
//
// Type behavior on decode into any:
//   - All integers decode as int64; uint64 values above MaxInt64 are errors
//   - Floats are never shortened, so float64 stays float64
//   - Maps decode as map[string]any
//   - string, bool, []byte, nil are preserved exactly
//
// Map keys are sorted canonically so equal values encode to equal bytes.
package cbor

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Config holds CBOR encoder and decoder modes.
type Config struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewConfig creates a deterministic CBOR configuration.
func NewConfig() (*Config, error) {
	encMode, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		ShortestFloat: cbor.ShortestFloatNone,
		BigIntConvert: cbor.BigIntConvertNone,
		Time:          cbor.TimeUnixMicro,
		TimeTag:       cbor.EncTagNone,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any{}),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Config{
		encMode: encMode,
		decMode: decMode,
	}, nil
}

var defaultConfig = func() *Config {
	c, err := NewConfig()
	if err != nil {
		panic(err)
	}
	return c
}()

// Marshal encodes v.
func (c *Config) Marshal(v any) ([]byte, error) {
	return c.encMode.Marshal(v)
}

// Unmarshal decodes data into v. Trailing bytes are an error.
func (c *Config) Unmarshal(data []byte, v any) error {
	return c.decMode.Unmarshal(data, v)
}

// Marshal encodes v with the default configuration.
func Marshal(v any) ([]byte, error) { return defaultConfig.Marshal(v) }

// Unmarshal decodes data into v with the default configuration.
func Unmarshal(data []byte, v any) error { return defaultConfig.Unmarshal(data, v) }
