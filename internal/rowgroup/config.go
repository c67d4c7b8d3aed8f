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

package rowgroup

import "runtime"

const (
	// DefaultMaxBytes is the estimated pending size at which a row group is sealed.
	DefaultMaxBytes int64 = 128 << 20

	// DefaultMaxRows is the pending row count at which a row group is sealed.
	DefaultMaxRows = 1_000_000
)

// Config bounds the size of a row group and the encode fan-out.
type Config struct {
	MaxBytes    int64 `mapstructure:"max_bytes"`
	MaxRows     int   `mapstructure:"max_rows"`
	Parallelism int   `mapstructure:"parallelism"`
}

// DefaultConfig returns the default row-group limits.
func DefaultConfig() Config {
	return Config{
		MaxBytes:    DefaultMaxBytes,
		MaxRows:     DefaultMaxRows,
		Parallelism: 0,
	}
}

// GetMaxBytes returns MaxBytes, or the default when unset.
func (c Config) GetMaxBytes() int64 {
	if c.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return c.MaxBytes
}

// GetMaxRows returns MaxRows, or the default when unset.
func (c Config) GetMaxRows() int {
	if c.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return c.MaxRows
}

// GetParallelism returns the number of columns encoded concurrently.
// Zero means GOMAXPROCS.
func (c Config) GetParallelism() int {
	if c.Parallelism <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Parallelism
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxBytes < 0 {
		return &ConfigError{Field: "MaxBytes", Message: "must not be negative"}
	}
	if c.MaxRows < 0 {
		return &ConfigError{Field: "MaxRows", Message: "must not be negative"}
	}
	if c.Parallelism < 0 {
		return &ConfigError{Field: "Parallelism", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a row-group configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "rowgroup config: " + e.Field + " " + e.Message
}
