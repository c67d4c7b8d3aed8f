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

// Package commit decides which attempt's output becomes a task's output and
// when a job's outputs become visible as a whole.
//
// A task commit is a durable test-and-set on the task's Record followed by
// a rename of the winning attempt's staging file to the task's final path.
// Exactly one attempt per task can ever win; every other attempt is told it
// was superseded and must discard its staging output.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakewriter/internal/idgen"
	"github.com/cardinalhq/lakewriter/internal/logctx"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Result is the outcome of a task commit request.
type Result int

const (
	// Committed means the requesting attempt's output is the task's output.
	Committed Result = iota + 1
	// Superseded means another attempt of the task already committed.
	Superseded
)

func (r Result) String() string {
	switch r {
	case Committed:
		return "committed"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

var (
	// ErrJobAborted is returned for commit requests against an aborted job.
	ErrJobAborted = errors.New("commit: job has been aborted")

	// ErrJobCommitted is returned for commit requests and aborts against a
	// committed job.
	ErrJobCommitted = errors.New("commit: job has already been committed")
)

// A job's outcome is claimed once, through the record store's
// test-and-set, as a Record under a task id that ValidateID never accepts.
// Whichever of CommitJob and AbortJob claims first decides the job, in
// this process or any other sharing the record store.
const (
	jobOutcomeTask = "_job"

	outcomeCommitted = "_committed"
	outcomeAborted   = "_aborted"
)

func reservedTask(taskID string) bool { return strings.HasPrefix(taskID, "_") }

func outcomeError(outcome string) error {
	switch outcome {
	case outcomeCommitted:
		return ErrJobCommitted
	case outcomeAborted:
		return ErrJobAborted
	}
	return nil
}

// IncompleteJobError is returned by CommitJob when known tasks lack a
// committed output. Missing is sorted.
type IncompleteJobError struct {
	JobID   string
	Missing []string
}

func (e *IncompleteJobError) Error() string {
	return fmt.Sprintf("commit: job %s is incomplete, %d task(s) without committed output: %s",
		e.JobID, len(e.Missing), strings.Join(e.Missing, ", "))
}

// Coordinator serializes commits per task. It holds no global lock.
type Coordinator struct {
	st       storage.Storage
	records  RecordStore
	locks    *keyedLocks
	instance string
	now      func() time.Time

	mu    sync.Mutex
	tasks map[string]mapset.Set[string]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithInstanceID sets the id written into records this coordinator creates.
func WithInstanceID(id string) Option {
	return func(c *Coordinator) { c.instance = id }
}

// NewCoordinator returns a coordinator over the given data store and record store.
func NewCoordinator(st storage.Storage, records RecordStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		st:       st,
		records:  records,
		locks:    newKeyedLocks(),
		instance: idgen.NewInstanceID(),
		now:      time.Now,
		tasks:    make(map[string]mapset.Set[string]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterTasks declares tasks that must commit before the job can. Tasks
// that request a commit are registered implicitly.
func (c *Coordinator) RegisterTasks(jobID string, taskIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tasks[jobID]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		c.tasks[jobID] = set
	}
	for _, id := range taskIDs {
		set.Add(id)
	}
}

// KnownTasks returns the registered tasks of a job, sorted.
func (c *Coordinator) KnownTasks(jobID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tasks[jobID]
	if !ok {
		return nil
	}
	tasks := set.ToSlice()
	slices.Sort(tasks)
	return tasks
}

func lockKey(jobID, taskID string) string { return jobID + "/" + taskID }

func (c *Coordinator) lockTask(ctx context.Context, jobID, taskID string) (func(), error) {
	start := time.Now()
	unlock, err := c.locks.lock(ctx, lockKey(jobID, taskID))
	lockWait.Record(ctx, time.Since(start).Seconds())
	return unlock, err
}

// RequestCommit asks for attemptID's staging output to become the task's
// output. Repeating a request for the winning attempt returns Committed
// again, finishing the rename if an earlier request was interrupted.
func (c *Coordinator) RequestCommit(ctx context.Context, jobID, taskID, attemptID, stagingPath string) (Result, error) {
	for _, id := range [][2]string{{"job", jobID}, {"task", taskID}, {"attempt", attemptID}} {
		if err := ValidateID(id[0], id[1]); err != nil {
			return 0, err
		}
	}
	c.RegisterTasks(jobID, taskID)

	ll := logctx.FromContext(ctx).With(logctx.Attempt(jobID, taskID, attemptID)...)

	unlock, err := c.lockTask(ctx, jobID, taskID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// checked under the task lock: CommitJob and AbortJob take it after
	// claiming the outcome, so either they see our output or we see
	// their claim.
	outcome, err := c.outcome(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := outcomeError(outcome); err != nil {
		return 0, err
	}

	finalPath := FinalPath(jobID, taskID)
	rec, created, err := c.records.PutIfAbsent(ctx, Record{
		JobID:       jobID,
		TaskID:      taskID,
		AttemptID:   attemptID,
		StagingPath: stagingPath,
		FinalPath:   finalPath,
		Coordinator: c.instance,
		CommittedAt: c.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("commit: record for task %s/%s: %w", jobID, taskID, err)
	}

	result, err := c.resolve(ctx, rec, created, attemptID)
	if err != nil {
		ll.Error("Task commit failed", slog.Any("error", err))
		return 0, err
	}
	commitRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result.String())))
	if result == Superseded {
		ll.Info("Attempt superseded", slog.String("winner", rec.AttemptID))
	} else {
		ll.Info("Task committed", slog.String("path", finalPath), slog.Bool("retried", !created))
	}
	return result, nil
}

func (c *Coordinator) resolve(ctx context.Context, rec Record, created bool, attemptID string) (Result, error) {
	if created {
		if err := c.st.AtomicRename(ctx, rec.StagingPath, rec.FinalPath); err != nil {
			return 0, err
		}
		return Committed, nil
	}
	if rec.AttemptID != attemptID {
		return Superseded, nil
	}

	ok, err := c.st.Exists(ctx, rec.FinalPath)
	if err != nil {
		return 0, err
	}
	if ok {
		return Committed, nil
	}
	ok, err = c.st.Exists(ctx, rec.StagingPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &storage.IOError{
			Op:   "commit",
			Path: rec.FinalPath,
			Err:  fmt.Errorf("attempt %s holds the commit record but neither %s nor its staging file exists: %w", attemptID, rec.FinalPath, storage.ErrNotFound),
		}
	}
	if err := c.st.AtomicRename(ctx, rec.StagingPath, rec.FinalPath); err != nil {
		return 0, err
	}
	return Committed, nil
}

func (c *Coordinator) lockJob(ctx context.Context, jobID string) (func(), error) {
	return c.lockTask(ctx, jobID, jobOutcomeTask)
}

// outcome returns the job's claimed outcome, or "" while it is undecided.
func (c *Coordinator) outcome(ctx context.Context, jobID string) (string, error) {
	rec, ok, err := c.records.Get(ctx, jobID, jobOutcomeTask)
	if err != nil || !ok {
		return "", err
	}
	return rec.AttemptID, nil
}

// claimOutcome records want as the job's outcome unless one is already in
// place, and returns the outcome that holds afterwards.
func (c *Coordinator) claimOutcome(ctx context.Context, jobID, want string) (string, error) {
	rec, _, err := c.records.PutIfAbsent(ctx, Record{
		JobID:       jobID,
		TaskID:      jobOutcomeTask,
		AttemptID:   want,
		Coordinator: c.instance,
		CommittedAt: c.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("commit: claim outcome of job %s: %w", jobID, err)
	}
	return rec.AttemptID, nil
}

// jobTasks returns the known tasks of the job plus every task with a
// record, sorted.
func (c *Coordinator) jobTasks(ctx context.Context, jobID string, known []string) ([]string, error) {
	tasks := mapset.NewThreadUnsafeSet(known...)
	recs, err := c.records.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if !reservedTask(rec.TaskID) {
			tasks.Add(rec.TaskID)
		}
	}
	sorted := tasks.ToSlice()
	slices.Sort(sorted)
	return sorted, nil
}

// settle waits out in-flight commits of each task and returns the tasks'
// committed outputs along with the tasks that have none.
func (c *Coordinator) settle(ctx context.Context, jobID string, taskIDs []string) ([]ManifestTask, []string, error) {
	var outputs []ManifestTask
	var missing []string
	for _, taskID := range taskIDs {
		rec, ok, err := c.settleTask(ctx, jobID, taskID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			missing = append(missing, taskID)
			continue
		}
		outputs = append(outputs, ManifestTask{TaskID: taskID, AttemptID: rec.AttemptID, Path: rec.FinalPath})
	}
	return outputs, missing, nil
}

func (c *Coordinator) settleTask(ctx context.Context, jobID, taskID string) (Record, bool, error) {
	unlock, err := c.lockTask(ctx, jobID, taskID)
	if err != nil {
		return Record{}, false, err
	}
	defer unlock()

	rec, ok, err := c.records.Get(ctx, jobID, taskID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	// finishes a rename an earlier request left undone
	if _, err := c.resolve(ctx, rec, false, rec.AttemptID); err != nil {
		if storage.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// CommitJob verifies every task of the job has a committed output, claims
// the job as committed and writes the job manifest. If any task is missing
// the job is aborted and an *IncompleteJobError is returned. Calling it
// again on a committed job returns the stored manifest.
func (c *Coordinator) CommitJob(ctx context.Context, jobID string) (*Manifest, error) {
	if err := ValidateID("job", jobID); err != nil {
		return nil, err
	}
	ll := logctx.FromContext(ctx).With(slog.String(logctx.JobKey, jobID))

	unlock, err := c.lockJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	outcome, err := c.outcome(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case outcomeAborted:
		return nil, ErrJobAborted
	case outcomeCommitted:
		m, err := ReadManifest(ctx, c.st, jobID)
		if err == nil || !storage.IsNotFound(err) {
			return m, err
		}
		// claimed by a CommitJob that never wrote the manifest
	}

	tasks, err := c.jobTasks(ctx, jobID, c.KnownTasks(jobID))
	if err != nil {
		return nil, err
	}
	outputs, missing, err := c.settle(ctx, jobID, tasks)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		incomplete := &IncompleteJobError{JobID: jobID, Missing: missing}
		jobCommits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "incomplete")))
		if outcome == outcomeCommitted {
			return nil, incomplete
		}
		ll.Warn("Job incomplete, aborting", slog.Any("missing", missing))
		if abortErr := c.abortLocked(ctx, jobID); abortErr != nil {
			return nil, multierror.Append(incomplete, abortErr)
		}
		return nil, incomplete
	}

	if outcome == "" {
		outcome, err = c.claimOutcome(ctx, jobID, outcomeCommitted)
		if err != nil {
			return nil, err
		}
		if outcome != outcomeCommitted {
			return nil, ErrJobAborted
		}
		// requests that passed the outcome check before the claim may
		// have committed tasks that were not known a moment ago
		tasks, err = c.jobTasks(ctx, jobID, tasks)
		if err != nil {
			return nil, err
		}
		outputs, missing, err = c.settle(ctx, jobID, tasks)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, &IncompleteJobError{JobID: jobID, Missing: missing}
		}
	}

	manifest := &Manifest{JobID: jobID, CommittedAt: c.now().UTC(), Tasks: outputs}
	created, err := writeManifest(ctx, c.st, manifest)
	if err != nil {
		return nil, err
	}
	if !created {
		return ReadManifest(ctx, c.st, jobID)
	}
	jobCommits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "committed")))
	ll.Info("Job committed", slog.Int("tasks", len(manifest.Tasks)))
	return manifest, nil
}

// AbortJob claims the job as aborted, marks it so late commit requests are
// refused, and removes every staging file, final output and commit record
// of the job. It is idempotent. A committed job is left alone and
// ErrJobCommitted returned. Cleanup keeps going past individual failures
// and returns them together.
func (c *Coordinator) AbortJob(ctx context.Context, jobID string) error {
	if err := ValidateID("job", jobID); err != nil {
		return err
	}
	unlock, err := c.lockJob(ctx, jobID)
	if err != nil {
		return err
	}
	defer unlock()
	return c.abortLocked(ctx, jobID)
}

func (c *Coordinator) abortLocked(ctx context.Context, jobID string) error {
	ll := logctx.FromContext(ctx).With(slog.String(logctx.JobKey, jobID))

	outcome, err := c.claimOutcome(ctx, jobID, outcomeAborted)
	if err != nil {
		return err
	}
	if outcome == outcomeCommitted {
		return ErrJobCommitted
	}
	if err := c.records.MarkAborted(ctx, jobID); err != nil {
		return fmt.Errorf("commit: mark job %s aborted: %w", jobID, err)
	}

	var result *multierror.Error
	sorted, err := c.jobTasks(ctx, jobID, c.KnownTasks(jobID))
	if err != nil {
		result = multierror.Append(result, err)
		sorted = c.KnownTasks(jobID)
	}
	for _, taskID := range sorted {
		if err := c.abortTask(ctx, jobID, taskID); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, prefix := range []string{stagingPrefix(jobID), finalPrefix(jobID)} {
		paths, err := c.st.List(ctx, prefix)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, p := range paths {
			if err := c.st.Delete(ctx, p); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	jobAborts.Add(ctx, 1)
	if err := result.ErrorOrNil(); err != nil {
		ll.Error("Job abort left debris", slog.Any("error", err))
		return err
	}
	ll.Info("Job aborted", slog.Int("tasks", len(sorted)))
	return nil
}

func (c *Coordinator) abortTask(ctx context.Context, jobID, taskID string) error {
	unlock, err := c.lockTask(ctx, jobID, taskID)
	if err != nil {
		return err
	}
	defer unlock()

	var result *multierror.Error
	if err := c.st.Delete(ctx, FinalPath(jobID, taskID)); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.records.Delete(ctx, jobID, taskID); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Status summarizes a job for operators.
type Status struct {
	JobID     string
	Aborted   bool
	Committed bool
	Records   []Record
}

// JobStatus reads the job's durable state.
func (c *Coordinator) JobStatus(ctx context.Context, jobID string) (*Status, error) {
	aborted, err := c.records.IsAborted(ctx, jobID)
	if err != nil {
		return nil, err
	}
	committed, err := c.st.Exists(ctx, ManifestPath(jobID))
	if err != nil {
		return nil, err
	}
	recs, err := c.records.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	recs = slices.DeleteFunc(recs, func(rec Record) bool { return reservedTask(rec.TaskID) })
	return &Status{JobID: jobID, Aborted: aborted, Committed: committed, Records: recs}, nil
}

// LoadTasks registers every task that has a record, a final output or a
// staging file, so a fresh coordinator can commit or abort a job begun by
// another process.
func (c *Coordinator) LoadTasks(ctx context.Context, jobID string) error {
	recs, err := c.records.List(ctx, jobID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !reservedTask(rec.TaskID) {
			c.RegisterTasks(jobID, rec.TaskID)
		}
	}
	paths, err := c.st.List(ctx, finalPrefix(jobID))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if taskID, ok := taskFromFinalPath(jobID, p); ok {
			c.RegisterTasks(jobID, taskID)
		}
	}
	paths, err = c.st.List(ctx, stagingPrefix(jobID))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if taskID, ok := taskFromStagingPath(jobID, p); ok {
			c.RegisterTasks(jobID, taskID)
		}
	}
	return nil
}
