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

package storage

import (
	"context"
	"fmt"

	"github.com/cardinalhq/lakewriter/internal/awsclient"
	"github.com/cardinalhq/lakewriter/internal/azureclient"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string `mapstructure:"backend"`
	Root        string `mapstructure:"root"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	PathStyle   bool   `mapstructure:"path_style"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
	RoleARN     string `mapstructure:"role_arn"`

	// Azure. Bucket names the container.
	Account          string `mapstructure:"account"`
	ConnectionString string `mapstructure:"connection_string"`
}

// DefaultConfig returns a local filesystem configuration.
func DefaultConfig() Config {
	return Config{
		Backend: fileBackend,
		Root:    "./lakewriter-data",
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case fileBackend:
		if c.Root == "" {
			return &ConfigError{Field: "Root", Message: "is required for the file backend"}
		}
	case s3Backend:
		if c.Bucket == "" {
			return &ConfigError{Field: "Bucket", Message: "is required for the s3 backend"}
		}
	case azureBackend:
		if c.Bucket == "" {
			return &ConfigError{Field: "Bucket", Message: "is required for the azure backend"}
		}
		if c.Account == "" && c.Endpoint == "" && c.ConnectionString == "" {
			return &ConfigError{Field: "Account", Message: "or Endpoint or ConnectionString is required for the azure backend"}
		}
	default:
		return &ConfigError{Field: "Backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	return nil
}

// ConfigError represents a storage configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "storage config: " + e.Field + " " + e.Message
}

// Open builds the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case fileBackend:
		return NewFileStore(cfg.Root)
	case azureBackend:
		client, err := azureclient.NewManager().GetBlob(ctx, azureOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		return NewAzureStore(client, cfg.Bucket, cfg.Prefix), nil
	}

	mgr, err := awsclient.NewManager(ctx, "")
	if err != nil {
		return nil, err
	}
	client, err := mgr.GetS3(ctx, s3Options(cfg)...)
	if err != nil {
		return nil, err
	}
	return NewS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func s3Options(cfg Config) []awsclient.S3Option {
	var opts []awsclient.S3Option
	if cfg.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(cfg.RoleARN))
	}
	if cfg.Region != "" {
		opts = append(opts, awsclient.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(cfg.Endpoint))
	}
	if cfg.PathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	if cfg.InsecureTLS {
		opts = append(opts, awsclient.WithInsecureTLS())
	}
	return opts
}

func azureOptions(cfg Config) []azureclient.BlobOption {
	var opts []azureclient.BlobOption
	switch {
	case cfg.ConnectionString != "":
		opts = append(opts, azureclient.WithConnectionString(cfg.ConnectionString))
	case cfg.Endpoint != "":
		opts = append(opts, azureclient.WithEndpoint(cfg.Endpoint))
	default:
		opts = append(opts, azureclient.WithStorageAccount(cfg.Account))
	}
	return opts
}
