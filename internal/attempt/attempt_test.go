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

package attempt

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakewriter/internal/colfile"
	"github.com/cardinalhq/lakewriter/internal/commit"
	"github.com/cardinalhq/lakewriter/internal/rowgroup"
	"github.com/cardinalhq/lakewriter/internal/schema"
	"github.com/cardinalhq/lakewriter/internal/storage"
	"github.com/cardinalhq/lakewriter/internal/storage/storagetest"
)

type fixture struct {
	st     *storagetest.Faulty
	coord  *commit.Coordinator
	schema *schema.Schema
	tmp    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inner, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := storagetest.New(inner)
	return &fixture{
		st:    st,
		coord: commit.NewCoordinator(st, commit.NewStorageRecordStore(st), commit.WithInstanceID("test")),
		schema: schema.MustResolve(schema.RawSchema{Columns: []schema.RawColumn{
			{Name: "id", Type: "int"},
			{Name: "name", Type: "text", Nullable: true},
		}}),
		tmp: t.TempDir(),
	}
}

func (f *fixture) newAttempt(t *testing.T, job, task, id string) *Attempt {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TmpDir = f.tmp
	a, err := New(job, task, f.st, f.coord, WithID(id), WithConfig(cfg))
	require.NoError(t, err)
	return a
}

func (f *fixture) exists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := f.st.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func (f *fixture) readRows(t *testing.T, p string) []rowgroup.Row {
	t.Helper()
	data, err := f.st.Read(context.Background(), p)
	require.NoError(t, err)
	r, err := colfile.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var rows []rowgroup.Row
	require.NoError(t, r.Each(func(row rowgroup.Row) error {
		rows = append(rows, row)
		return nil
	}))
	return rows
}

func sampleRows() []rowgroup.Row {
	return []rowgroup.Row{
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
		{"id": 3, "name": nil},
	}
}

func TestAttempt_RunAndCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	assert.Equal(t, StateCreated, a.State())

	res, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCommit, a.State())
	assert.Equal(t, int64(3), res.RowsWritten)
	assert.Zero(t, res.RowsRejected)
	assert.Equal(t, 1, res.RowGroups)
	assert.Positive(t, res.Bytes)
	require.NotNil(t, res.Footer)
	assert.Equal(t, int64(3), res.Footer.NumRows)
	assert.True(t, f.exists(t, a.StagingPath()))

	result, err := a.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Committed, result)
	assert.Equal(t, StateCommitted, a.State())
	assert.False(t, f.exists(t, a.StagingPath()))

	rows := f.readRows(t, commit.FinalPath("j1", "t1"))
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "b", rows[1]["name"])
	assert.Nil(t, rows[2]["name"])

	result, err = a.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Committed, result)
}

func TestAttempt_RejectedRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")

	rows := append(sampleRows(), rowgroup.Row{"id": nil, "name": "c"}, rowgroup.Row{"id": 5, "name": "e"})
	res, err := a.Run(ctx, f.schema, NewSliceSource(rows...))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsWritten)
	assert.Equal(t, int64(1), res.RowsRejected)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "id", res.Rejections[0].Column)
	assert.Equal(t, int64(3), res.Rejections[0].Row)

	_, err = a.Commit(ctx)
	require.NoError(t, err)
	got := f.readRows(t, commit.FinalPath("j1", "t1"))
	require.Len(t, got, 4)
	assert.Equal(t, int64(5), got[3]["id"])
}

func TestAttempt_SpeculativeAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a1 := f.newAttempt(t, "j1", "t1", "a1")
	a2 := f.newAttempt(t, "j1", "t1", "a2")
	assert.NotEqual(t, a1.StagingPath(), a2.StagingPath())

	_, err := a1.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)
	_, err = a2.Run(ctx, f.schema, NewSliceSource(rowgroup.Row{"id": 99, "name": "from a2"}))
	require.NoError(t, err)

	result, err := a1.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Committed, result)

	result, err = a2.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Superseded, result)
	assert.Equal(t, StateAborted, a2.State())
	assert.False(t, f.exists(t, a2.StagingPath()))

	rows := f.readRows(t, commit.FinalPath("j1", "t1"))
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.NotEqual(t, int64(99), row["id"])
	}

	result, err = a2.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Superseded, result)
}

func TestAttempt_StorageFailureAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.st.Fail(storagetest.OpWrite, "staging/", errors.New("disk full"))
	a := f.newAttempt(t, "j1", "t1", "a1")

	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.Error(t, err)
	var ioErr *storage.IOError
	assert.ErrorAs(t, err, &ioErr)
	assert.Equal(t, StateAborted, a.State())
	assert.False(t, f.exists(t, a.StagingPath()))

	_, err = a.Commit(ctx)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestAttempt_CommitFailureCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)

	f.st.FailOnce(storagetest.OpRename, "staging/", errors.New("rename interrupted"))
	_, err = a.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, StateAwaitingCommit, a.State())

	result, err := a.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit.Committed, result)
	assert.True(t, f.exists(t, commit.FinalPath("j1", "t1")))
}

// blockingSource yields one row and then blocks until its context ends.
type blockingSource struct {
	started chan struct{}
	sent    bool
}

func (s *blockingSource) Next(ctx context.Context) (rowgroup.Row, error) {
	if !s.sent {
		s.sent = true
		return rowgroup.Row{"id": 1}, nil
	}
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAttempt_CancelWhileRunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")

	src := &blockingSource{started: make(chan struct{})}
	errc := make(chan error, 1)
	go func() {
		_, err := a.Run(ctx, f.schema, src)
		errc <- err
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never started")
	}
	require.NoError(t, a.Cancel(ctx))
	assert.Equal(t, StateAborted, a.State())
	assert.ErrorIs(t, <-errc, ErrCanceled)
	assert.False(t, f.exists(t, a.StagingPath()))
	assert.False(t, f.exists(t, commit.FinalPath("j1", "t1")))
}

func TestAttempt_CancelBeforeRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")

	require.NoError(t, a.Cancel(ctx))
	assert.Equal(t, StateAborted, a.State())

	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateAborted, invalid.From)
}

func TestAttempt_CancelAwaitingCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)

	require.NoError(t, a.Cancel(ctx))
	assert.Equal(t, StateAborted, a.State())
	assert.False(t, f.exists(t, a.StagingPath()))
	require.NoError(t, a.Abort(ctx))
}

func TestAttempt_CancelAfterCommitLeavesOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)
	_, err = a.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Cancel(ctx))
	assert.Equal(t, StateCommitted, a.State())
	assert.True(t, f.exists(t, commit.FinalPath("j1", "t1")))

	err = a.Abort(ctx)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestAttempt_CommitAfterJobAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)

	require.NoError(t, f.coord.AbortJob(ctx, "j1"))
	_, err = a.Commit(ctx)
	assert.ErrorIs(t, err, commit.ErrJobAborted)
	assert.Equal(t, StateAborted, a.State())
	assert.False(t, f.exists(t, commit.FinalPath("j1", "t1")))
}

func TestAttempt_StagingDeleteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.newAttempt(t, "j1", "t1", "a1")
	_, err := a.Run(ctx, f.schema, NewSliceSource(sampleRows()...))
	require.NoError(t, err)

	f.st.Fail(storagetest.OpDelete, "staging/", errors.New("permission denied"))
	require.NoError(t, a.Abort(ctx))
	assert.Equal(t, StateAborted, a.State())
	assert.True(t, f.exists(t, a.StagingPath()))
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	a1, err := New("j1", "t1", f.st, f.coord)
	require.NoError(t, err)
	a2, err := New("j1", "t1", f.st, f.coord)
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID(), a2.ID())
	assert.NotEqual(t, a1.StagingPath(), a2.StagingPath())
	assert.Equal(t, "j1", a1.JobID())
	assert.Equal(t, "t1", a1.TaskID())

	_, err = New("j1", "a/b", f.st, f.coord)
	assert.Error(t, err)
	_, err = New("j1", "t1", nil, f.coord)
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StateRunning, true},
		{StateCreated, StateAborted, true},
		{StateCreated, StateCommitted, false},
		{StateRunning, StateAwaitingCommit, true},
		{StateRunning, StateAborted, true},
		{StateRunning, StateCommitted, false},
		{StateAwaitingCommit, StateCommitted, true},
		{StateAwaitingCommit, StateAborted, true},
		{StateAwaitingCommit, StateRunning, false},
		{StateCommitted, StateAborted, false},
		{StateAborted, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			got, err := transition(tt.from, tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, got)
				return
			}
			var invalid *ErrInvalidTransition
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.from, got)
		})
	}
	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateAwaitingCommit.Terminal())
}
