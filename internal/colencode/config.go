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

const (
	// DefaultDictionaryRatio is the distinct/non-null ratio below which a
	// column is dictionary encoded.
	DefaultDictionaryRatio = 0.4

	// DefaultDictionaryMaxEntries caps the dictionary table size.
	DefaultDictionaryMaxEntries = 1 << 17
)

// Config controls how the encoder chooses encodings and compression.
type Config struct {
	DictionaryRatio      float64     `mapstructure:"dictionary_ratio"`
	DictionaryMaxEntries int         `mapstructure:"dictionary_max_entries"`
	Compression          Compression `mapstructure:"compression"`
}

// DefaultConfig returns the default encoder configuration.
func DefaultConfig() Config {
	return Config{
		DictionaryRatio:      DefaultDictionaryRatio,
		DictionaryMaxEntries: DefaultDictionaryMaxEntries,
		Compression:          CompressionZstd,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DictionaryRatio < 0 || c.DictionaryRatio > 1 {
		return &ConfigError{Field: "DictionaryRatio", Message: "must be between 0 and 1"}
	}
	if c.DictionaryMaxEntries < 1 {
		return &ConfigError{Field: "DictionaryMaxEntries", Message: "must be positive"}
	}
	if _, err := ParseCompression(string(c.Compression)); err != nil {
		return &ConfigError{Field: "Compression", Message: err.Error()}
	}
	return nil
}

// ConfigError represents an encoder configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "colencode config: " + e.Field + " " + e.Message
}
