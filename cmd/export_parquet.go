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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/parquetexport"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export-parquet [flags] PATH",
		Short: "Convert a column file to Parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			stored, err := c.Flags().GetBool("stored")
			if err != nil {
				return fmt.Errorf("failed to get stored flag: %w", err)
			}
			out, err := c.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}
			compression, err := c.Flags().GetString("compression")
			if err != nil {
				return fmt.Errorf("failed to get compression flag: %w", err)
			}
			return withTelemetry("lakewriter-export-parquet", func(ctx context.Context) error {
				return runExportParquet(ctx, args[0], stored, out, compression)
			})
		},
	}

	rootCmd.AddCommand(cmd)

	cmd.Flags().Bool("stored", false, "Read PATH from the configured storage instead of the local filesystem")
	cmd.Flags().String("out", "", "Parquet file to write")
	cmd.Flags().String("compression", "zstd", "Parquet compression (none, zstd, snappy, lz4, gzip)")
	if err := cmd.MarkFlagRequired("out"); err != nil {
		panic(fmt.Errorf("failed to mark out flag as required: %w", err))
	}
}

func runExportParquet(ctx context.Context, p string, stored bool, out, compression string) error {
	codec, err := colencode.ParseCompression(compression)
	if err != nil {
		return err
	}

	f, done, err := openInput(ctx, p, stored)
	if err != nil {
		return err
	}
	defer done()

	// Written beside the destination and renamed so a failed export leaves
	// nothing behind.
	tmp, err := os.CreateTemp(filepath.Dir(out), ".export-*.parquet")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	res, err := parquetexport.Export(ctx, f.Reader, tmp, parquetexport.Options{
		TmpDir:      os.TempDir(),
		Compression: codec,
	})
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return err
	}

	slog.Info("Exported parquet file",
		slog.String("source", p),
		slog.String("destination", out),
		slog.Int64("rows", res.Rows),
		slog.Int("rowGroups", res.RowGroups))
	return nil
}
