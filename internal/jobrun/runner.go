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

// Package jobrun drives a whole job: every task is run by one or more
// attempts until one commits, then the job is committed. A task that runs
// out of attempts aborts the job.
package jobrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/lakewriter/internal/attempt"
	"github.com/cardinalhq/lakewriter/internal/commit"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/schema"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Task is one unit of work. Open is called once per attempt and must
// return a fresh source each time. Sources that implement io.Closer are
// closed when the attempt's run ends.
type Task struct {
	ID   string
	Open func(ctx context.Context) (attempt.RowSource, error)
}

// TaskResult describes the winning attempt of a task.
type TaskResult struct {
	TaskID       string
	AttemptID    string
	Attempts     int
	RowsWritten  int64
	RowsRejected int64
	Bytes        int64
}

// Report is the outcome of a committed job.
type Report struct {
	JobID    string
	Manifest *commit.Manifest
	Tasks    []TaskResult
}

// TaskFailedError is returned when a task used up its attempts.
type TaskFailedError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("jobrun: task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }

// Runner runs jobs against one storage and coordinator.
type Runner struct {
	st         storage.Storage
	coord      *commit.Coordinator
	schema     *schema.Schema
	cfg        Config
	attemptCfg attempt.Config
}

// NewRunner returns a runner writing files of schema s.
func NewRunner(st storage.Storage, coord *commit.Coordinator, s *schema.Schema, cfg Config, attemptCfg attempt.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{st: st, coord: coord, schema: s, cfg: cfg, attemptCfg: attemptCfg}, nil
}

// Run executes every task and commits the job. If any task fails, or ctx
// is canceled, the job is aborted and the error returned.
func (r *Runner) Run(ctx context.Context, jobID string, tasks []Task) (*Report, error) {
	if err := commit.ValidateID("job", jobID); err != nil {
		return nil, err
	}
	ids := make([]string, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if err := commit.ValidateID("task", t.ID); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("jobrun: duplicate task %q", t.ID)
		}
		seen[t.ID] = true
		ids[i] = t.ID
	}

	ctx = logctx.WithJob(ctx, jobID)
	ll := logctx.FromContext(ctx)
	r.coord.RegisterTasks(jobID, ids...)
	ll.Info("Starting job", slog.Int("tasks", len(tasks)))

	results := make([]TaskResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.GetParallelism())
	for i, t := range tasks {
		g.Go(func() error {
			res, err := r.runTask(gctx, jobID, t)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "aborted")))
		ll.Error("Job failed, aborting", slog.Any("error", err))
		if aerr := r.coord.AbortJob(context.WithoutCancel(ctx), jobID); aerr != nil {
			return nil, errors.Join(err, aerr)
		}
		return nil, err
	}

	m, err := r.coord.CommitJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "committed")))
	ll.Info("Job committed", slog.Int("tasks", len(m.Tasks)))
	return &Report{JobID: jobID, Manifest: m, Tasks: results}, nil
}

// staged is an attempt whose output is staged but whose commit request
// failed. Its request can be repeated.
type staged struct {
	a   *attempt.Attempt
	res TaskResult
}

func (r *Runner) runTask(ctx context.Context, jobID string, t Task) (*TaskResult, error) {
	ctx = logctx.WithTask(ctx, t.ID)
	ll := logctx.FromContext(ctx)

	var (
		pending  []*staged
		lastErr  error
		attempts int
	)
	finish := func(res *TaskResult) (*TaskResult, error) {
		r.discard(ctx, pending)
		res.Attempts = attempts
		return res, nil
	}

	for round := 1; round <= r.cfg.MaxAttempts; round++ {
		if res := r.retryPending(ctx, &pending); res != nil {
			return finish(res)
		}

		res, n, err := r.runRound(ctx, jobID, t, &pending)
		attempts += n
		if res != nil {
			return finish(res)
		}
		if err == nil {
			// Every attempt lost to one staged in an earlier round.
			if res := r.retryPending(ctx, &pending); res != nil {
				return finish(res)
			}
			err = errors.New("jobrun: every attempt was superseded")
		}
		if ctx.Err() != nil || errors.Is(err, commit.ErrJobAborted) || errors.Is(err, commit.ErrJobCommitted) {
			r.discard(ctx, pending)
			return nil, err
		}
		lastErr = err
		taskRetries.Add(ctx, 1)
		ll.Warn("Task round failed",
			slog.Int("round", round),
			slog.Any("error", err))
	}
	if res := r.retryPending(ctx, &pending); res != nil {
		return finish(res)
	}
	r.discard(ctx, pending)
	return nil, &TaskFailedError{TaskID: t.ID, Attempts: attempts, Err: lastErr}
}

// retryPending repeats the commit request of every staged attempt. Attempts
// that can still be retried stay in pending.
func (r *Runner) retryPending(ctx context.Context, pending *[]*staged) *TaskResult {
	var (
		kept   []*staged
		winner *TaskResult
	)
	for _, p := range *pending {
		if winner != nil {
			kept = append(kept, p)
			continue
		}
		result, err := p.a.Commit(ctx)
		switch {
		case err == nil && result == commit.Committed:
			res := p.res
			winner = &res
		case err != nil && p.a.State() == attempt.StateAwaitingCommit:
			kept = append(kept, p)
		}
	}
	*pending = kept
	return winner
}

// discard cancels staged attempts that did not win.
func (r *Runner) discard(ctx context.Context, pending []*staged) {
	for _, p := range pending {
		if err := p.a.Cancel(context.WithoutCancel(ctx)); err != nil {
			logctx.FromContext(ctx).Warn("Failed to cancel staged attempt",
				slog.String(logctx.AttemptKey, p.a.ID()),
				slog.Any("error", err))
		}
	}
}

// runRound starts Speculation attempts of t. The first to commit wins and
// the others are canceled. It returns how many attempts were started.
func (r *Runner) runRound(ctx context.Context, jobID string, t Task, pending *[]*staged) (*TaskResult, int, error) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		winner *TaskResult
		errs   []error
		live   []*attempt.Attempt
	)
	for range r.cfg.Speculation {
		a, err := attempt.New(jobID, t.ID, r.st, r.coord, attempt.WithConfig(r.attemptCfg))
		if err != nil {
			return nil, 0, err
		}
		live = append(live, a)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.runAttempt(roundCtx, ctx, a, t)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
				if res != nil {
					*pending = append(*pending, &staged{a: a, res: *res})
				}
			case res != nil && winner == nil:
				winner = res
				cancel()
			}
		}()
	}
	wg.Wait()

	if winner == nil {
		return nil, len(live), errors.Join(errs...)
	}
	for _, a := range live {
		if a.ID() == winner.AttemptID {
			continue
		}
		if err := a.Cancel(ctx); err != nil {
			logctx.FromContext(ctx).Warn("Failed to cancel losing attempt",
				slog.String(logctx.AttemptKey, a.ID()),
				slog.Any("error", err))
		}
	}
	return winner, len(live), nil
}

// runAttempt runs and commits a. It returns nil and no error when the
// attempt lost to another. When the commit request fails but can be
// repeated, both the staged result and the error are returned. Running is
// bound to runCtx so a winner can stop its siblings; committing uses ctx.
func (r *Runner) runAttempt(runCtx, ctx context.Context, a *attempt.Attempt, t Task) (*TaskResult, error) {
	src, err := t.Open(runCtx)
	if err != nil {
		_ = a.Abort(ctx)
		return nil, fmt.Errorf("jobrun: open task %s: %w", t.ID, err)
	}
	res, err := a.Run(runCtx, r.schema, src)
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			// stopped because a sibling won
			return nil, nil
		}
		return nil, err
	}

	out := &TaskResult{
		TaskID:       t.ID,
		AttemptID:    a.ID(),
		RowsWritten:  res.RowsWritten,
		RowsRejected: res.RowsRejected,
		Bytes:        res.Bytes,
	}
	result, err := a.Commit(ctx)
	if err != nil {
		if a.State() == attempt.StateAwaitingCommit {
			return out, err
		}
		return nil, err
	}
	if result == commit.Superseded {
		return nil, nil
	}
	return out, nil
}
