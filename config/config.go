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

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/lakewriter/internal/attempt"
	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/jobrun"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Record store backends.
const (
	RecordStoreStorage  = "storage"
	RecordStorePostgres = "postgres"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Storage  storage.Config   `mapstructure:"storage"`
	Commit   CommitConfig     `mapstructure:"commit"`
	RowGroup rowgroup.Config  `mapstructure:"rowgroup"`
	Encoding colencode.Config `mapstructure:"encoding"`
	Job      jobrun.Config    `mapstructure:"job"`
	TmpDir   string           `mapstructure:"tmpdir"`
}

// CommitConfig selects where commit records are kept. The storage backend
// keeps them next to the data; postgres uses the COMMITDB_* database.
type CommitConfig struct {
	RecordStore string `mapstructure:"record_store"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Storage:  storage.DefaultConfig(),
		Commit:   CommitConfig{RecordStore: RecordStoreStorage},
		RowGroup: rowgroup.DefaultConfig(),
		Encoding: colencode.DefaultConfig(),
		Job:      jobrun.DefaultConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LAKEWRITER" and the dot character
// in keys is replaced by an underscore. For example, "rowgroup.max_rows"
// becomes "LAKEWRITER_ROWGROUP_MAX_ROWS".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LAKEWRITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Commit.RecordStore {
	case RecordStoreStorage, RecordStorePostgres:
	default:
		return &ConfigError{Field: "commit.record_store", Message: fmt.Sprintf("unknown record store %q", c.Commit.RecordStore)}
	}
	for _, section := range []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"storage", c.Storage},
		{"rowgroup", c.RowGroup},
		{"encoding", c.Encoding},
		{"job", c.Job},
	} {
		if err := section.v.Validate(); err != nil {
			return &ConfigError{Field: section.name, Message: err.Error()}
		}
	}
	return nil
}

// AttemptConfig returns the settings each task attempt runs with.
func (c *Config) AttemptConfig() attempt.Config {
	return attempt.Config{
		RowGroup: c.RowGroup,
		Encoding: c.Encoding,
		TmpDir:   c.TmpDir,
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
