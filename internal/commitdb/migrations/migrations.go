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

// Package migrations holds the commit database schema.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const migrationsTable = "gomigrate_lwcommitdb"

//go:embed *.sql
var migrationFiles embed.FS

func newMigrate(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	dbDriver, err := pgx.WithInstance(sqlDB, &pgx.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create pgx driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, func() {
		_ = dbDriver.Close()
		_ = sqlDB.Close()
	}, nil
}

// RunMigrationsUp applies all up migrations using embedded migration files.
func RunMigrationsUp(_ context.Context, pool *pgxpool.Pool) error {
	m, done, err := newMigrate(pool)
	if err != nil {
		return err
	}
	defer done()

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return errors.New("migration is dirty, please fix it before proceeding")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// CheckConfig controls how CheckVersion waits for migrations.
type CheckConfig struct {
	Enabled       bool
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

// CheckConfigFromEnv reads COMMITDB_MIGRATION_CHECK_ENABLED and the shared
// MIGRATION_CHECK_* variables.
func CheckConfigFromEnv() CheckConfig {
	cfg := CheckConfig{
		Enabled:       true,
		Timeout:       60 * time.Second,
		RetryInterval: 5 * time.Second,
	}
	if val := os.Getenv("COMMITDB_MIGRATION_CHECK_ENABLED"); val != "" {
		cfg.Enabled = strings.ToLower(val) == "true"
	}
	if d, err := time.ParseDuration(os.Getenv("MIGRATION_CHECK_TIMEOUT")); err == nil {
		cfg.Timeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL")); err == nil {
		cfg.RetryInterval = d
	}
	if val := os.Getenv("MIGRATION_CHECK_ALLOW_DIRTY"); val != "" {
		cfg.AllowDirty = strings.ToLower(val) == "true"
	}
	return cfg
}

// CheckVersion waits until the database has every embedded migration
// applied, failing after cfg.Timeout.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, cfg CheckConfig) error {
	if !cfg.Enabled {
		slog.Debug("Migration version checking disabled for commitdb")
		return nil
	}
	expected, err := LatestVersion()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.RetryInterval)
	defer ticker.Stop()

	for {
		current, dirty, err := currentVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to get current commitdb migration version: %w", err)
		}
		if dirty && !cfg.AllowDirty {
			return errors.New("commitdb migration is in dirty state, please fix before proceeding")
		}
		if current == expected {
			slog.Info("Migration version check passed",
				slog.String("database", "commitdb"),
				slog.Uint64("version", uint64(current)))
			return nil
		}
		if current > expected {
			return fmt.Errorf("commitdb version %d is newer than expected version %d - you may need to update the application",
				current, expected)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for commitdb migration to complete: current version %d, expected %d",
				current, expected)
		}

		slog.Info("Waiting for migrations to complete",
			slog.String("database", "commitdb"),
			slog.Uint64("current_version", uint64(current)),
			slog.Uint64("expected_version", uint64(expected)))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for commitdb migrations")
		case <-ticker.C:
		}
	}
}

func currentVersion(pool *pgxpool.Pool) (uint, bool, error) {
	m, done, err := newMigrate(pool)
	if err != nil {
		return 0, false, err
	}
	defer done()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	entries, err := migrationFiles.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		maxVersion = max(maxVersion, uint(version))
	}
	if maxVersion == 0 {
		return 0, errors.New("no valid migration files found")
	}
	return maxVersion, nil
}
