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

// Package attempt runs one execution of a task: rows are buffered, encoded
// and written to a staging path private to the attempt, and then offered to
// the commit coordinator.
//
//	Created -> Running -> AwaitingCommit -> Committed
//	   \          \              \
//	    +----------+--------------+--> Aborted
//
// An attempt only ever deletes its own staging file. Final outputs are
// written by the coordinator's rename and are never touched from here.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakewriter/internal/colencode"
	"github.com/cardinalhq/lakewriter/internal/colfile"
	"github.com/cardinalhq/lakewriter/internal/commit"
	"github.com/cardinalhq/lakewriter/internal/idgen"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// ErrCanceled is returned by Run when the attempt was canceled or aborted
// while it was running.
var ErrCanceled = errors.New("attempt: canceled")

// maxKeptRejections bounds how many row rejections a RunResult keeps.
// RowsRejected always has the full count.
const maxKeptRejections = 100

// Committer is the part of the commit coordinator an attempt needs.
type Committer interface {
	RequestCommit(ctx context.Context, jobID, taskID, attemptID, stagingPath string) (commit.Result, error)
}

var _ Committer = (*commit.Coordinator)(nil)

// Config holds the buffering and encoding settings of an attempt.
type Config struct {
	RowGroup rowgroup.Config
	Encoding colencode.Config
	// TmpDir holds the local file an attempt builds before staging it.
	// Empty means os.TempDir().
	TmpDir string
}

// DefaultConfig returns the default attempt configuration.
func DefaultConfig() Config {
	return Config{
		RowGroup: rowgroup.DefaultConfig(),
		Encoding: colencode.DefaultConfig(),
	}
}

// RunResult describes the staged output of a successful Run.
type RunResult struct {
	RowsWritten  int64
	RowsRejected int64
	RowGroups    int
	Bytes        int64
	Footer       *colfile.Footer
	// Rejections holds the first rejected rows, in input order.
	Rejections []*rowgroup.RowValidationError
}

func (r *RunResult) reject(err *rowgroup.RowValidationError) {
	r.RowsRejected++
	if len(r.Rejections) < maxKeptRejections {
		r.Rejections = append(r.Rejections, err)
	}
}

// Option configures an Attempt.
type Option func(*Attempt)

// WithID overrides the generated attempt id.
func WithID(id string) Option {
	return func(a *Attempt) { a.id = id }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(a *Attempt) { a.cfg = cfg }
}

var attemptIDs = idgen.NewULIDGenerator()

// Attempt is one execution of a task. Run, Commit, Abort and Cancel may be
// called from different goroutines.
type Attempt struct {
	jobID   string
	taskID  string
	id      string
	staging string

	st        storage.Storage
	committer Committer
	cfg       Config

	// opMu serializes Commit against Abort and Cancel so a staging file is
	// never deleted while the coordinator may be renaming it.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	canceled   bool
	superseded bool
	cancelRun  context.CancelFunc
	done       chan struct{}
}

// New registers an attempt of taskID in jobID and allocates its staging path.
func New(jobID, taskID string, st storage.Storage, committer Committer, opts ...Option) (*Attempt, error) {
	a := &Attempt{
		jobID:     jobID,
		taskID:    taskID,
		st:        st,
		committer: committer,
		cfg:       DefaultConfig(),
		state:     StateCreated,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = attemptIDs.Make(time.Now())
	}
	for _, id := range [][2]string{{"job", jobID}, {"task", taskID}, {"attempt", a.id}} {
		if err := commit.ValidateID(id[0], id[1]); err != nil {
			return nil, err
		}
	}
	if st == nil || committer == nil {
		return nil, errors.New("attempt: storage and committer are required")
	}
	a.staging = commit.StagingPath(jobID, taskID, a.id)
	return a, nil
}

// ID returns the attempt id.
func (a *Attempt) ID() string { return a.id }

// JobID returns the job the attempt belongs to.
func (a *Attempt) JobID() string { return a.jobID }

// TaskID returns the task the attempt executes.
func (a *Attempt) TaskID() string { return a.taskID }

// StagingPath returns the attempt's private output path.
func (a *Attempt) StagingPath() string { return a.staging }

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) logger(ctx context.Context) *slog.Logger {
	return logctx.FromContext(ctx).With(logctx.Attempt(a.jobID, a.taskID, a.id)...)
}

// setLocked moves to state to. a.mu must be held.
func (a *Attempt) setLocked(ctx context.Context, to State) error {
	from := a.state
	next, err := transition(from, to)
	if err != nil {
		return err
	}
	a.state = next
	transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", to.String())))
	a.logger(ctx).Debug("Attempt state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return nil
}

// Run reads every row of src, writes the encoded file to the staging path
// and leaves the attempt awaiting commit. Rejected rows are skipped and
// reported in the result. Any other failure aborts the attempt.
func (a *Attempt) Run(ctx context.Context, s *schema.Schema, src RowSource) (*RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if err := a.setLocked(ctx, StateRunning); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.cancelRun = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()
	defer close(done)

	ll := a.logger(ctx)
	start := time.Now()

	res, err := a.produce(runCtx, s, src)

	a.mu.Lock()
	a.cancelRun = nil
	canceled := a.canceled
	if err == nil && !canceled {
		err = a.setLocked(ctx, StateAwaitingCommit)
		a.mu.Unlock()
		if err != nil {
			return nil, err
		}
		runDuration.Record(ctx, time.Since(start).Seconds())
		stagedBytes.Add(ctx, res.Bytes)
		ll.Info("Attempt staged output",
			slog.String("path", a.staging),
			slog.Int64("rows", res.RowsWritten),
			slog.Int64("rejected", res.RowsRejected),
			slog.Int("rowGroups", res.RowGroups),
			slog.Int64("bytes", res.Bytes))
		return res, nil
	}
	_ = a.setLocked(ctx, StateAborted)
	a.mu.Unlock()

	a.discardStaging(ctx)
	if canceled {
		ll.Info("Attempt canceled while running")
		return nil, ErrCanceled
	}
	ll.Error("Attempt failed", slog.Any("error", err))
	return nil, err
}

func (a *Attempt) produce(ctx context.Context, s *schema.Schema, src RowSource) (*RunResult, error) {
	enc, err := colencode.NewEncoder(a.cfg.Encoding)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(a.cfg.TmpDir, "attempt-*.col")
	if err != nil {
		return nil, fmt.Errorf("attempt: create local file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	w := colfile.NewWriter(f, s)
	buf, err := rowgroup.NewBuffer(s, a.cfg.RowGroup, enc, w)
	if err != nil {
		return nil, err
	}

	res := &RunResult{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var verr *rowgroup.RowValidationError
		if errors.As(err, &verr) {
			res.reject(verr)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("attempt: read row: %w", err)
		}
		if err := buf.Append(ctx, row); err != nil {
			if errors.As(err, &verr) {
				res.reject(verr)
				continue
			}
			return nil, err
		}
	}
	if err := buf.Close(ctx); err != nil {
		return nil, err
	}
	footer, err := w.Close()
	if err != nil {
		return nil, err
	}

	stats := buf.Stats()
	res.RowsWritten = stats.RowsAccepted
	res.RowGroups = stats.RowGroups
	res.Bytes = w.BytesWritten()
	res.Footer = footer

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("attempt: rewind local file: %w", err)
	}
	if err := a.st.Write(ctx, a.staging, f); err != nil {
		return nil, err
	}
	return res, nil
}

// Commit asks the coordinator to promote the staged output. Superseded is
// not an error: the attempt aborts and its staging file is deleted.
// Committing an attempt that already committed returns Committed again.
// A storage failure during the request leaves the attempt awaiting commit
// so the request can be repeated.
func (a *Attempt) Commit(ctx context.Context) (commit.Result, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	state, superseded := a.state, a.superseded
	a.mu.Unlock()
	switch {
	case state == StateCommitted:
		return commit.Committed, nil
	case state == StateAborted && superseded:
		return commit.Superseded, nil
	case state != StateAwaitingCommit:
		return 0, &ErrInvalidTransition{From: state, To: StateCommitted}
	}

	result, err := a.committer.RequestCommit(ctx, a.jobID, a.taskID, a.id, a.staging)
	if err != nil {
		if errors.Is(err, commit.ErrJobAborted) {
			a.mu.Lock()
			_ = a.setLocked(ctx, StateAborted)
			a.mu.Unlock()
			a.discardStaging(ctx)
		}
		return 0, err
	}

	a.mu.Lock()
	switch result {
	case commit.Committed:
		err = a.setLocked(ctx, StateCommitted)
	case commit.Superseded:
		a.superseded = true
		err = a.setLocked(ctx, StateAborted)
	default:
		err = fmt.Errorf("attempt: unexpected commit result %s", result)
	}
	a.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if result == commit.Superseded {
		a.discardStaging(ctx)
	}
	return result, nil
}

// Abort discards the attempt and its staging file. Aborting a running
// attempt cancels the run and waits for it to stop. Aborting twice is a
// no-op; aborting a committed attempt is an *ErrInvalidTransition.
func (a *Attempt) Abort(ctx context.Context) error {
	return a.stop(ctx, false)
}

// Cancel is Abort for callers that do not know how far the attempt got,
// such as a driver whose faster speculative attempt already won. A
// committed attempt is left alone and Cancel returns nil.
func (a *Attempt) Cancel(ctx context.Context) error {
	return a.stop(ctx, true)
}

func (a *Attempt) stop(ctx context.Context, cancel bool) error {
	a.opMu.Lock()
	a.mu.Lock()

	if a.state == StateRunning {
		a.canceled = true
		if a.cancelRun != nil {
			a.cancelRun()
		}
		done := a.done
		a.mu.Unlock()
		a.opMu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer a.opMu.Unlock()

	switch a.state {
	case StateAborted:
		a.mu.Unlock()
		return nil
	case StateCommitted:
		a.mu.Unlock()
		if cancel {
			return nil
		}
		return &ErrInvalidTransition{From: StateCommitted, To: StateAborted}
	}

	err := a.setLocked(ctx, StateAborted)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.discardStaging(ctx)
	a.logger(ctx).Info("Attempt aborted")
	return nil
}

// discardStaging deletes the staging file. Failures are logged, not
// returned: the job abort sweeps whatever is left under the job's staging
// prefix.
func (a *Attempt) discardStaging(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := a.st.Delete(ctx, a.staging); err != nil {
		cleanupFailures.Add(ctx, 1)
		a.logger(ctx).Warn("Failed to delete staging file",
			slog.String("path", a.staging),
			slog.Any("error", err))
	}
}
