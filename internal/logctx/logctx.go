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
// Package logctx threads the job, task and run being worked on through a
// context so every log line from deep inside a write carries them.
package logctx

import (
	"context"
	"log/slog"
)

// Attribute keys shared by every package that logs about a write.
const (
	RunKey     = "operationID"
	JobKey     = "jobID"
	TaskKey    = "taskID"
	AttemptKey = "attemptID"
)

type loggerKey struct{}

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger on ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With narrows the context logger with args.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// WithRun tags ctx with the id of one CLI invocation.
func WithRun(ctx context.Context, runID string) context.Context {
	return With(ctx, slog.String(RunKey, runID))
}

// WithJob tags ctx with a job id.
func WithJob(ctx context.Context, jobID string) context.Context {
	return With(ctx, slog.String(JobKey, jobID))
}

// WithTask tags ctx with a task id. The job id is expected to be on ctx
// already.
func WithTask(ctx context.Context, taskID string) context.Context {
	return With(ctx, slog.String(TaskKey, taskID))
}

// Attempt returns the attributes identifying one attempt, for loggers built
// outside a tagged context.
func Attempt(jobID, taskID, attemptID string) []any {
	return []any{
		slog.String(JobKey, jobID),
		slog.String(TaskKey, taskID),
		slog.String(AttemptKey, attemptID),
	}
}
