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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakewriter/internal/colfile"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
)

var errStopIteration = errors.New("stop")

func init() {
	cmd := &cobra.Command{
		Use:   "inspect [flags] PATH",
		Short: "Print the footer and chunk metadata of a column file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			stored, err := c.Flags().GetBool("stored")
			if err != nil {
				return fmt.Errorf("failed to get stored flag: %w", err)
			}
			rows, err := c.Flags().GetInt("rows")
			if err != nil {
				return fmt.Errorf("failed to get rows flag: %w", err)
			}
			return withTelemetry("lakewriter-inspect", func(ctx context.Context) error {
				return runInspect(ctx, args[0], stored, rows)
			})
		},
	}

	rootCmd.AddCommand(cmd)

	cmd.Flags().Bool("stored", false, "Read PATH from the configured storage instead of the local filesystem")
	cmd.Flags().Int("rows", 0, "Also print the first N rows")
}

func runInspect(ctx context.Context, p string, stored bool, rows int) error {
	f, done, err := openInput(ctx, p, stored)
	if err != nil {
		return err
	}
	defer done()

	footer := f.Footer()
	fmt.Printf("version: %d\nrows: %d\nrow groups: %d\n", footer.Version, footer.NumRows, len(footer.RowGroups))
	fmt.Println("schema:")
	for _, col := range f.Schema().Columns() {
		nullable := ""
		if col.Nullable {
			nullable = " nullable"
		}
		fmt.Printf("  %-20s %s%s\n", col.Name, col.Type, nullable)
	}
	for _, rg := range footer.RowGroups {
		fmt.Printf("row group %d: rows=%d offset=%d size=%d\n", rg.Index, rg.NumRows, rg.Offset, rg.Size)
		for _, cm := range rg.Columns {
			h := cm.Header
			encoding := h.Encoding.String()
			if h.DictionaryFallback {
				encoding += " (dictionary fallback)"
			}
			codec := "none"
			if h.Compressed {
				codec = string(h.Codec)
			}
			distinct := fmt.Sprintf("~%d", h.Stats.DistinctCount)
			if h.Stats.DistinctExact {
				distinct = fmt.Sprintf("%d", h.Stats.DistinctCount)
			}
			fmt.Printf("  %-20s %-28s codec=%-6s size=%d raw=%d nulls=%d distinct=%s",
				h.Column, encoding, codec, h.Size, h.UncompressedSize, h.Stats.NullCount, distinct)
			if h.Stats.HasMinMax() {
				fmt.Printf(" min=%v max=%v", h.Stats.Min, h.Stats.Max)
			}
			fmt.Println()
		}
	}

	if rows <= 0 {
		return nil
	}
	names := f.Schema().Names()
	fmt.Println(strings.Join(names, "\t"))
	printed := 0
	err = f.Each(func(row rowgroup.Row) error {
		if printed >= rows {
			return errStopIteration
		}
		fields := make([]string, len(names))
		for i, name := range names {
			if v := row[name]; v != nil {
				fields[i] = fmt.Sprint(v)
			}
		}
		fmt.Println(strings.Join(fields, "\t"))
		printed++
		return nil
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

// openInput opens a local column file. Reading from storage needs the
// runtime configuration.
func openInput(ctx context.Context, p string, stored bool) (*colfile.File, func(), error) {
	if !stored {
		env := &runtimeEnv{}
		return env.openColumnFile(ctx, p, false)
	}
	env, err := openEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	f, done, err := env.openColumnFile(ctx, p, true)
	if err != nil {
		env.close()
		return nil, nil, err
	}
	return f, func() {
		done()
		env.close()
	}, nil
}
