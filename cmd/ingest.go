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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakewriter/internal/attempt"
	"github.com/cardinalhq/lakewriter/internal/commit"
	"github.com/cardinalhq/lakewriter/internal/csvsource"
	"github.com/cardinalhq/lakewriter/internal/idgen"
	"github.com/cardinalhq/lakewriter/internal/jobrun"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/schema"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [flags] FILE...",
		Short: "Encode CSV files into column files and commit them as one job",
		Long: `Each input file is one task. Inputs may be gzip compressed. The job
is committed once every task has a committed output, and aborted if any
task runs out of attempts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			jobID, err := c.Flags().GetString("job")
			if err != nil {
				return fmt.Errorf("failed to get job flag: %w", err)
			}
			schemaFile, err := c.Flags().GetString("schema")
			if err != nil {
				return fmt.Errorf("failed to get schema flag: %w", err)
			}
			return withTelemetry("lakewriter-ingest", func(ctx context.Context) error {
				return runIngest(ctx, jobID, schemaFile, args)
			})
		},
	}

	rootCmd.AddCommand(cmd)

	cmd.Flags().String("job", "", "Job id (generated when empty)")
	cmd.Flags().String("schema", "", "Schema YAML file")
	if err := cmd.MarkFlagRequired("schema"); err != nil {
		panic(fmt.Errorf("failed to mark schema flag as required: %w", err))
	}
}

func runIngest(ctx context.Context, jobID, schemaFile string, files []string) error {
	s, err := schema.LoadFile(schemaFile)
	if err != nil {
		return err
	}
	if jobID == "" {
		jobID = idgen.NextBase32ID()
	}
	ctx = logctx.WithRun(ctx, idgen.RunID())

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	runner, err := jobrun.NewRunner(env.st, env.coord, s, env.cfg.Job, env.cfg.AttemptConfig())
	if err != nil {
		return err
	}

	tasks := make([]jobrun.Task, len(files))
	for i, file := range files {
		tasks[i] = jobrun.Task{
			ID: taskIDForFile(file),
			Open: func(context.Context) (attempt.RowSource, error) {
				src, err := csvsource.Open(file, s)
				if err != nil {
					return nil, err
				}
				return src, nil
			},
		}
	}

	report, err := runner.Run(ctx, jobID, tasks)
	if err != nil {
		return fmt.Errorf("job %s failed: %w", jobID, err)
	}

	fmt.Printf("job %s committed\n", report.JobID)
	for _, tr := range report.Tasks {
		fmt.Printf("  %-24s %s rows=%d rejected=%d bytes=%d attempts=%d\n",
			tr.TaskID, commit.FinalPath(report.JobID, tr.TaskID), tr.RowsWritten, tr.RowsRejected, tr.Bytes, tr.Attempts)
	}
	return nil
}

// taskIDForFile names a task after its input file without extensions.
func taskIDForFile(file string) string {
	name := filepath.Base(file)
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.TrimLeft(name, "_.")
	if name == "" {
		return "task"
	}
	return strings.ToLower(name)
}
