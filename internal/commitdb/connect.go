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

package commitdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/cardinalhq/lakewriter/internal/commitdb/migrations"
)

// EnvPrefix prefixes the environment variables that locate the database.
const EnvPrefix = "COMMITDB"

// ErrNotConfigured is returned by Connect when no database is configured.
var ErrNotConfigured = errors.New("commitdb: database connection configuration is unavailable")

// Connect opens a pool to the commit database and waits for its schema to
// be at the embedded migration version. Pass skipCheck when the caller is
// about to run the migrations itself.
func Connect(ctx context.Context, skipCheck bool) (*pgxpool.Pool, error) {
	connectionString, err := DatabaseURLFromEnv(EnvPrefix)
	if err != nil {
		return nil, errors.Join(ErrNotConfigured, err)
	}

	pool, err := NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}
	if skipCheck {
		return pool, nil
	}
	if err := migrations.CheckVersion(ctx, pool, migrations.CheckConfigFromEnv()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("COMMITDB migration version check failed: %w", err)
	}
	return pool, nil
}

// NewConnectionPool creates a pgx pool with query tracing.
func NewConnectionPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "commitdb",
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// DatabaseURLFromEnv builds a PostgreSQL URL from PREFIX_URL, or from
// PREFIX_HOST, PREFIX_PORT, PREFIX_USER, PREFIX_PASSWORD, PREFIX_DBNAME
// and PREFIX_SSLMODE. HOST and DBNAME are required; PORT defaults to 5432.
func DatabaseURLFromEnv(prefix string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	if urlStr := os.Getenv(prefix + "URL"); urlStr != "" {
		return urlStr, nil
	}

	host := os.Getenv(prefix + "HOST")
	dbname := os.Getenv(prefix + "DBNAME")
	var missing []string
	if host == "" {
		missing = append(missing, prefix+"HOST")
	}
	if dbname == "" {
		missing = append(missing, prefix+"DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	port := os.Getenv(prefix + "PORT")
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbname,
	}
	if user := os.Getenv(prefix + "USER"); user != "" {
		if pass := os.Getenv(prefix + "PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode := os.Getenv(prefix + "SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	if appName := os.Getenv("OTEL_SERVICE_NAME"); appName != "" {
		q.Set("application_name", sanitizeAppName(appName))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sanitizeAppName keeps application_name to letters, digits, - and _,
// truncated to Postgres's 63-byte limit.
func sanitizeAppName(name string) string {
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
