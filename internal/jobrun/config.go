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

package jobrun

import (
	"runtime"
)

// Config controls how a job's tasks are scheduled.
type Config struct {
	// Parallelism is how many tasks run at once. Zero means GOMAXPROCS.
	Parallelism int `mapstructure:"parallelism"`
	// MaxAttempts is how many rounds of attempts a task gets before the
	// job is aborted.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Speculation is how many attempts of a task run side by side in each
	// round. The first to commit wins; the rest are canceled.
	Speculation int `mapstructure:"speculation"`
}

// DefaultConfig returns the default scheduling configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Speculation: 1,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Parallelism < 0 {
		return &ConfigError{Field: "Parallelism", Message: "must not be negative"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "MaxAttempts", Message: "must be at least 1"}
	}
	if c.Speculation < 1 {
		return &ConfigError{Field: "Speculation", Message: "must be at least 1"}
	}
	return nil
}

// GetParallelism returns Parallelism, or GOMAXPROCS when it is unset.
func (c Config) GetParallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

// ConfigError represents a job scheduling configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "jobrun config: " + e.Field + " " + e.Message
}
