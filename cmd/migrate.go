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

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakewriter/internal/commitdb"
	"github.com/cardinalhq/lakewriter/internal/commitdb/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run commit database migrations",
	Long:  "Apply the commit record schema to the database named by the COMMITDB_* environment variables.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withTelemetry("lakewriter-migrate", migrate)
	},
}

func migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	pool, err := commitdb.Connect(ctx, true)
	if err != nil {
		if errors.Is(err, commitdb.ErrNotConfigured) {
			slog.Info("Commitdb not configured, skipping migration")
			return nil
		}
		return err
	}
	defer pool.Close()

	slog.Info("Running commitdb migrations")
	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		return err
	}
	slog.Info("Commitdb migrations completed successfully")
	return nil
}
