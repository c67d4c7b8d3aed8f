//go:build integration

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

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/postgres"

	"github.com/cardinalhq/lakewriter/internal/commitdb"
	"github.com/cardinalhq/lakewriter/internal/commitdb/migrations"
)

const (
	containerDB       = "testing_commitdb"
	containerUser     = "postgres"
	containerPassword = "password"
)

var (
	containerOnce sync.Once
	container     *gnomock.Container
	containerErr  error
)

// commitDBContainer starts one Postgres container for the test binary the
// first time a test asks for a database without COMMITDB_HOST set.
func commitDBContainer() (*gnomock.Container, error) {
	containerOnce.Do(func() {
		container, containerErr = gnomock.Start(
			postgres.Preset(
				postgres.WithVersion("16"),
				postgres.WithDatabase(containerDB),
			),
			gnomock.WithTimeout(2*time.Minute),
		)
	})
	return container, containerErr
}

// RunWithCommitDB runs the package's tests and stops the shared Postgres
// container if one was started. Use it from TestMain.
func RunWithCommitDB(m *testing.M) int {
	code := m.Run()
	if container != nil {
		if err := gnomock.Stop(container); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to stop commitdb container: %v\n", err)
		}
	}
	return code
}

// SetupTestCommitDB creates a clean test commit database with migrations applied.
// Returns a connection pool and registers cleanup with t.Cleanup.
func SetupTestCommitDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	dbName := fmt.Sprintf("test_commitdb_%d_%d", time.Now().Unix(), rand.Intn(10000))

	host := os.Getenv("COMMITDB_HOST")
	port := getEnvOrDefault("COMMITDB_PORT", "5432")
	user := getEnvOrDefault("COMMITDB_USER", os.Getenv("USER"))
	baseDB := getEnvOrDefault("COMMITDB_DBNAME", containerDB)
	password := os.Getenv("COMMITDB_PASSWORD")
	if host == "" {
		c, err := commitDBContainer()
		if err != nil {
			t.Fatalf("Failed to start commitdb container: %v", err)
		}
		host, port = c.Host, strconv.Itoa(c.DefaultPort())
		user, password, baseDB = containerUser, containerPassword, containerDB
	}

	connStr := func(db string) string {
		if password != "" {
			return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, db)
		}
		return fmt.Sprintf("postgresql://%s@%s:%s/%s", user, host, port, db)
	}

	basePool, err := pgxpool.New(ctx, connStr(baseDB))
	if err != nil {
		t.Fatalf("Failed to connect to base commitdb: %v", err)
	}

	if _, err := basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		basePool.Close()
		t.Fatalf("Failed to create test commitdb %s: %v", dbName, err)
	}

	testPool, err := commitdb.NewConnectionPool(ctx, connStr(dbName))
	if err != nil {
		basePool.Close()
		t.Fatalf("Failed to connect to test commitdb: %v", err)
	}

	if err := migrations.RunMigrationsUp(ctx, testPool); err != nil {
		testPool.Close()
		basePool.Close()
		t.Fatalf("Failed to run commitdb migrations: %v", err)
	}

	t.Cleanup(func() {
		testPool.Close()
		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test commitdb", slog.String("dbName", dbName), slog.Any("error", err))
		}
		basePool.Close()
	})

	return testPool
}

// NewTestCommitDBStore creates a commit record store on a fresh test database.
func NewTestCommitDBStore(t *testing.T) *commitdb.Store {
	return commitdb.NewStore(SetupTestCommitDB(t))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
