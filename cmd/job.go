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
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Commit, abort or inspect a job",
	Long: `Operate on a job whose tasks were written by earlier runs. The
coordinator rebuilds the job's task set from storage before acting.`,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.PersistentFlags().String("job", "", "Job id")
	if err := jobCmd.MarkPersistentFlagRequired("job"); err != nil {
		panic(fmt.Errorf("failed to mark job flag as required: %w", err))
	}

	jobCmd.AddCommand(&cobra.Command{
		Use:   "commit",
		Short: "Write the job manifest once every task has committed",
		RunE: func(c *cobra.Command, _ []string) error {
			return runJobCommand(c, "lakewriter-job-commit", jobCommit)
		},
	})
	jobCmd.AddCommand(&cobra.Command{
		Use:   "abort",
		Short: "Abort the job and delete its committed outputs",
		RunE: func(c *cobra.Command, _ []string) error {
			return runJobCommand(c, "lakewriter-job-abort", jobAbort)
		},
	})
	jobCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the job's commit records",
		RunE: func(c *cobra.Command, _ []string) error {
			return runJobCommand(c, "lakewriter-job-status", jobStatus)
		},
	})
}

func runJobCommand(c *cobra.Command, servicename string, fn func(ctx context.Context, env *runtimeEnv, jobID string) error) error {
	jobID, err := c.Flags().GetString("job")
	if err != nil {
		return fmt.Errorf("failed to get job flag: %w", err)
	}
	return withTelemetry(servicename, func(ctx context.Context) error {
		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()
		return fn(ctx, env, jobID)
	})
}

func jobCommit(ctx context.Context, env *runtimeEnv, jobID string) error {
	if err := env.coord.LoadTasks(ctx, jobID); err != nil {
		return err
	}
	m, err := env.coord.CommitJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("job %s committed at %s\n", m.JobID, m.CommittedAt.Format(time.RFC3339))
	for _, t := range m.Tasks {
		fmt.Printf("  %-24s %s (attempt %s)\n", t.TaskID, t.Path, t.AttemptID)
	}
	return nil
}

func jobAbort(ctx context.Context, env *runtimeEnv, jobID string) error {
	if err := env.coord.LoadTasks(ctx, jobID); err != nil {
		return err
	}
	if err := env.coord.AbortJob(ctx, jobID); err != nil {
		return err
	}
	fmt.Printf("job %s aborted\n", jobID)
	return nil
}

func jobStatus(ctx context.Context, env *runtimeEnv, jobID string) error {
	status, err := env.coord.JobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	state := "open"
	switch {
	case status.Committed:
		state = "committed"
	case status.Aborted:
		state = "aborted"
	}
	fmt.Printf("job %s: %s, %d task(s) committed\n", status.JobID, state, len(status.Records))
	for _, rec := range status.Records {
		fmt.Printf("  %-24s attempt=%s at=%s by=%s\n",
			rec.TaskID, rec.AttemptID, rec.CommittedAt.Format(time.RFC3339), rec.Coordinator)
	}
	return nil
}
