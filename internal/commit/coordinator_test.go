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

package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakewriter/internal/storage"
	"github.com/cardinalhq/lakewriter/internal/storage/storagetest"
)

type fixture struct {
	st    *storagetest.Faulty
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inner, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := storagetest.New(inner)
	return &fixture{
		st:    st,
		coord: NewCoordinator(st, NewStorageRecordStore(st), WithInstanceID("test")),
	}
}

// stage writes an attempt's staging file and returns its path.
func (f *fixture) stage(t *testing.T, job, task, attempt string) string {
	t.Helper()
	p := StagingPath(job, task, attempt)
	require.NoError(t, f.st.Write(context.Background(), p, strings.NewReader("output of "+attempt)))
	return p
}

func (f *fixture) exists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := f.st.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func (f *fixture) read(t *testing.T, p string) string {
	t.Helper()
	data, err := f.st.Read(context.Background(), p)
	require.NoError(t, err)
	return string(data)
}

func TestCoordinator_ConcurrentCommitsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const attempts = 16
	paths := make([]string, attempts)
	for i := range attempts {
		paths[i] = f.stage(t, "j1", "t1", fmt.Sprintf("a%02d", i))
	}

	results := make([]Result, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.coord.RequestCommit(ctx, "j1", "t1", fmt.Sprintf("a%02d", i), paths[i])
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	winner := -1
	for i, res := range results {
		if res == Committed {
			assert.Equal(t, -1, winner, "more than one attempt committed")
			winner = i
		} else {
			assert.Equal(t, Superseded, res)
		}
	}
	require.NotEqual(t, -1, winner)
	assert.Equal(t, fmt.Sprintf("output of a%02d", winner), f.read(t, FinalPath("j1", "t1")))
	assert.Equal(t, 0, f.coord.locks.size())
}

func TestCoordinator_RecommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staging := f.stage(t, "j1", "t1", "a1")

	res, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	require.NoError(t, err)
	assert.Equal(t, Committed, res)

	renames := f.st.Calls(storagetest.OpRename)
	res, err = f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	require.NoError(t, err)
	assert.Equal(t, Committed, res)
	assert.Equal(t, renames, f.st.Calls(storagetest.OpRename), "a repeated commit does not rename again")
	assert.True(t, f.exists(t, FinalPath("j1", "t1")))
}

func TestCoordinator_SpeculativeSecondAttemptIsSuperseded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a1 := f.stage(t, "j1", "t1", "a1")
	a2 := f.stage(t, "j1", "t1", "a2")

	res, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", a1)
	require.NoError(t, err)
	assert.Equal(t, Committed, res)

	res, err = f.coord.RequestCommit(ctx, "j1", "t1", "a2", a2)
	require.NoError(t, err)
	assert.Equal(t, Superseded, res)

	assert.Equal(t, "output of a1", f.read(t, FinalPath("j1", "t1")))
	assert.True(t, f.exists(t, a2), "the loser's staging file is the attempt's to delete")
}

func TestCoordinator_InterruptedRenameIsFinishedOnRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staging := f.stage(t, "j1", "t1", "a1")

	f.st.FailOnce(storagetest.OpRename, staging, errors.New("connection reset"))
	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	var ioErr *storage.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.False(t, f.exists(t, FinalPath("j1", "t1")))

	res, err := f.coord.RequestCommit(ctx, "j1", "t1", "a2", f.stage(t, "j1", "t1", "a2"))
	require.NoError(t, err)
	assert.Equal(t, Superseded, res, "the record already names a1")

	res, err = f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	require.NoError(t, err)
	assert.Equal(t, Committed, res)
	assert.Equal(t, "output of a1", f.read(t, FinalPath("j1", "t1")))
	assert.False(t, f.exists(t, staging))
}

func TestCoordinator_CommitWithoutAnyOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", StagingPath("j1", "t1", "a1"))
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	_, err = f.coord.RequestCommit(ctx, "j1", "t1", "a1", StagingPath("j1", "t1", "a1"))
	var ioErr *storage.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "commit", ioErr.Op)
}

func TestCoordinator_RecordStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staging := f.stage(t, "j1", "t1", "a1")

	f.st.FailOnce(storagetest.OpWriteIfAbsent, RecordPath("j1", "t1"), errors.New("throttled"))
	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	var ioErr *storage.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.True(t, f.exists(t, staging))

	res, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	require.NoError(t, err)
	assert.Equal(t, Committed, res)
}

func TestCoordinator_CommitJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coord.RegisterTasks("j1", "t2", "t1")

	for _, task := range []string{"t1", "t2"} {
		res, err := f.coord.RequestCommit(ctx, "j1", task, "a1", f.stage(t, "j1", task, "a1"))
		require.NoError(t, err)
		require.Equal(t, Committed, res)
	}

	m, err := f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, m.Tasks, 2)
	assert.Equal(t, "t1", m.Tasks[0].TaskID)
	assert.Equal(t, FinalPath("j1", "t2"), m.Tasks[1].Path)

	stored, err := ReadManifest(ctx, f.st, "j1")
	require.NoError(t, err)
	assert.Equal(t, m.Tasks, stored.Tasks)
	assert.Equal(t, "j1", stored.JobID)

	assert.ErrorIs(t, f.coord.AbortJob(ctx, "j1"), ErrJobCommitted)
	assert.True(t, f.exists(t, FinalPath("j1", "t1")))
}

func TestCoordinator_CommitJobIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	first, err := f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)

	again, err := f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, first.Tasks, again.Tasks)
	assert.True(t, first.CommittedAt.Equal(again.CommittedAt), "the stored manifest is returned")
}

func TestCoordinator_CommitJobFinishesInterruptedRename(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	staging := f.stage(t, "j1", "t1", "a1")

	f.st.FailOnce(storagetest.OpRename, staging, errors.New("connection reset"))
	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", staging)
	require.Error(t, err)

	m, err := f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, m.Tasks, 1)
	assert.Equal(t, "output of a1", f.read(t, FinalPath("j1", "t1")))
}

func TestCoordinator_LateCommitAfterCommitJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	_, err = f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)

	late := f.stage(t, "j1", "t9", "a1")
	_, err = f.coord.RequestCommit(ctx, "j1", "t9", "a1", late)
	assert.ErrorIs(t, err, ErrJobCommitted)
	assert.False(t, f.exists(t, FinalPath("j1", "t9")))
	assert.True(t, f.exists(t, late))

	m, err := ReadManifest(ctx, f.st, "j1")
	require.NoError(t, err)
	assert.Len(t, m.Tasks, 1)
}

func TestCoordinator_AbortWhileCommitJobWritesManifest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)

	other := NewCoordinator(f.st, NewStorageRecordStore(f.st), WithInstanceID("other"))
	aborts := make(chan error, 2)
	f.st.BeforeWriteIfAbsent = func(p string) {
		if p != ManifestPath("j1") {
			return
		}
		// another process, then this one
		aborts <- other.AbortJob(ctx, "j1")
		go func() { aborts <- f.coord.AbortJob(ctx, "j1") }()
	}

	m, err := f.coord.CommitJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, m.Tasks, 1)
	assert.ErrorIs(t, <-aborts, ErrJobCommitted)
	assert.ErrorIs(t, <-aborts, ErrJobCommitted)

	assert.True(t, f.exists(t, ManifestPath("j1")))
	assert.True(t, f.exists(t, FinalPath("j1", "t1")))
	status, err := f.coord.JobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, status.Committed)
	assert.False(t, status.Aborted)
}

func TestCoordinator_AbortWinsBeforeCommitJobClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)

	other := NewCoordinator(f.st, NewStorageRecordStore(f.st), WithInstanceID("other"))
	fired := false
	var abortErr error
	f.st.BeforeWriteIfAbsent = func(p string) {
		if p == RecordPath("j1", jobOutcomeTask) && !fired {
			fired = true
			abortErr = other.AbortJob(ctx, "j1")
		}
	}

	_, err = f.coord.CommitJob(ctx, "j1")
	assert.ErrorIs(t, err, ErrJobAborted)
	require.NoError(t, abortErr)
	assert.False(t, f.exists(t, ManifestPath("j1")))
	assert.False(t, f.exists(t, FinalPath("j1", "t1")))
}

func TestCoordinator_CommitJobIncompleteAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coord.RegisterTasks("j1", "t1", "t2", "t3")

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	leftover := f.stage(t, "j1", "t3", "a1")

	_, err = f.coord.CommitJob(ctx, "j1")
	var incomplete *IncompleteJobError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "j1", incomplete.JobID)
	assert.Equal(t, []string{"t2", "t3"}, incomplete.Missing)

	assert.False(t, f.exists(t, FinalPath("j1", "t1")))
	assert.False(t, f.exists(t, leftover))
	assert.False(t, f.exists(t, RecordPath("j1", "t1")))
	assert.False(t, f.exists(t, ManifestPath("j1")))

	_, err = f.coord.RequestCommit(ctx, "j1", "t2", "a9", f.stage(t, "j1", "t2", "a9"))
	assert.ErrorIs(t, err, ErrJobAborted)
	_, err = f.coord.CommitJob(ctx, "j1")
	assert.ErrorIs(t, err, ErrJobAborted)
}

func TestCoordinator_CommitJobNeedsFinalOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	require.NoError(t, f.st.Delete(ctx, FinalPath("j1", "t1")))

	_, err = f.coord.CommitJob(ctx, "j1")
	var incomplete *IncompleteJobError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"t1"}, incomplete.Missing)
}

func TestCoordinator_DoubleAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.coord.RegisterTasks("j1", "t1", "t2")

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	orphan := f.stage(t, "j1", "t2", "a1")

	require.NoError(t, f.coord.AbortJob(ctx, "j1"))
	require.NoError(t, f.coord.AbortJob(ctx, "j1"))

	assert.False(t, f.exists(t, FinalPath("j1", "t1")))
	assert.False(t, f.exists(t, orphan))

	status, err := f.coord.JobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, status.Aborted)
	assert.False(t, status.Committed)
	assert.Empty(t, status.Records)
}

func TestCoordinator_AbortAggregatesCleanupErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	s1 := f.stage(t, "j1", "t2", "a1")
	s2 := f.stage(t, "j1", "t3", "a1")

	boom := errors.New("permission denied")
	f.st.Fail(storagetest.OpDelete, s1, boom)
	f.st.Fail(storagetest.OpDelete, s2, boom)

	err = f.coord.AbortJob(ctx, "j1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), s1)
	assert.Contains(t, err.Error(), s2)
	assert.False(t, f.exists(t, FinalPath("j1", "t1")), "other cleanup still happens")

	f.st.Clear()
	require.NoError(t, f.coord.AbortJob(ctx, "j1"))
	assert.False(t, f.exists(t, s1))
}

func TestCoordinator_NoGlobalLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	unlock, err := f.coord.locks.lock(ctx, lockKey("j1", "t1"))
	require.NoError(t, err)
	defer unlock()

	done := make(chan Result, 1)
	go func() {
		res, err := f.coord.RequestCommit(ctx, "j1", "t2", "a1", f.stage(t, "j1", "t2", "a1"))
		assert.NoError(t, err)
		done <- res
	}()
	select {
	case res := <-done:
		assert.Equal(t, Committed, res)
	case <-time.After(5 * time.Second):
		t.Fatal("commit of t2 blocked on the lock of t1")
	}

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.coord.RequestCommit(blocked, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_LoadTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.RequestCommit(ctx, "j1", "t1", "a1", f.stage(t, "j1", "t1", "a1"))
	require.NoError(t, err)
	f.stage(t, "j1", "t2", "a1")

	fresh := NewCoordinator(f.st, NewStorageRecordStore(f.st))
	require.NoError(t, fresh.LoadTasks(ctx, "j1"))
	assert.Equal(t, []string{"t1", "t2"}, fresh.KnownTasks("j1"))

	_, err = fresh.CommitJob(ctx, "j1")
	var incomplete *IncompleteJobError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"t2"}, incomplete.Missing)
}

func TestCoordinator_RejectsBadIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.RequestCommit(context.Background(), "j1", "a/b", "a1", "x")
	assert.ErrorContains(t, err, "path separator")
	_, err = f.coord.CommitJob(context.Background(), "")
	assert.ErrorContains(t, err, "empty")
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "committed", Committed.String())
	assert.Equal(t, "superseded", Superseded.String())
	assert.Equal(t, "unknown(0)", Result(0).String())
}
