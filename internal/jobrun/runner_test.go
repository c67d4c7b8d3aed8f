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

package jobrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakewriter/internal/attempt"
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
			{Name: "task", Type: "text"},
		}}),
		tmp: t.TempDir(),
	}
}

func (f *fixture) runner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	acfg := attempt.DefaultConfig()
	acfg.TmpDir = f.tmp
	r, err := NewRunner(f.st, f.coord, f.schema, cfg, acfg)
	require.NoError(t, err)
	return r
}

func (f *fixture) exists(t *testing.T, p string) bool {
	t.Helper()
	ok, err := f.st.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func (f *fixture) finalRows(t *testing.T, job, task string) []rowgroup.Row {
	t.Helper()
	data, err := f.st.Read(context.Background(), commit.FinalPath(job, task))
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

func (f *fixture) stagingFiles(t *testing.T, job string) []string {
	t.Helper()
	files, err := f.st.List(context.Background(), "staging/"+job+"/")
	require.NoError(t, err)
	return files
}

func makeTasks(n, rows int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		id := fmt.Sprintf("t%d", i+1)
		tasks[i] = Task{
			ID: id,
			Open: func(context.Context) (attempt.RowSource, error) {
				var rs []rowgroup.Row
				for j := range rows {
					rs = append(rs, rowgroup.Row{"id": int64(j), "task": id})
				}
				return attempt.NewSliceSource(rs...), nil
			},
		}
	}
	return tasks
}

func TestRunner_CommitsJob(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, Config{Parallelism: 2, MaxAttempts: 1, Speculation: 1})

	report, err := r.Run(context.Background(), "j1", makeTasks(3, 5))
	require.NoError(t, err)
	require.Len(t, report.Tasks, 3)
	require.NotNil(t, report.Manifest)
	assert.Len(t, report.Manifest.Tasks, 3)

	for i, tr := range report.Tasks {
		task := fmt.Sprintf("t%d", i+1)
		assert.Equal(t, task, tr.TaskID)
		assert.Equal(t, 1, tr.Attempts)
		assert.Equal(t, int64(5), tr.RowsWritten)
		assert.Positive(t, tr.Bytes)
		rows := f.finalRows(t, "j1", task)
		require.Len(t, rows, 5)
		assert.Equal(t, task, rows[0]["task"])
	}
	assert.True(t, f.exists(t, commit.ManifestPath("j1")))
	assert.Empty(t, f.stagingFiles(t, "j1"))
}

func TestRunner_SpeculativeAttemptsLeaveOneOutput(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, Config{MaxAttempts: 1, Speculation: 3})

	report, err := r.Run(context.Background(), "j1", makeTasks(2, 50))
	require.NoError(t, err)
	for _, tr := range report.Tasks {
		assert.Equal(t, 3, tr.Attempts)
		assert.Len(t, f.finalRows(t, "j1", tr.TaskID), 50)
	}
	assert.Empty(t, f.stagingFiles(t, "j1"))

	m, err := commit.ReadManifest(context.Background(), f.st, "j1")
	require.NoError(t, err)
	for i, mt := range m.Tasks {
		assert.Equal(t, report.Tasks[i].AttemptID, mt.AttemptID)
	}
}

func TestRunner_RetriesFailedRound(t *testing.T) {
	f := newFixture(t)
	f.st.FailOnce(storagetest.OpWrite, "staging/j1/t1/", errors.New("disk full"))
	r := f.runner(t, Config{MaxAttempts: 3, Speculation: 1})

	report, err := r.Run(context.Background(), "j1", makeTasks(1, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tasks[0].Attempts)
	assert.Len(t, f.finalRows(t, "j1", "t1"), 4)
	assert.Empty(t, f.stagingFiles(t, "j1"))
}

func TestRunner_RepeatsFailedCommitRequest(t *testing.T) {
	f := newFixture(t)
	f.st.FailOnce(storagetest.OpRename, "staging/j1/t1/", errors.New("throttled"))
	r := f.runner(t, Config{MaxAttempts: 2, Speculation: 1})

	report, err := r.Run(context.Background(), "j1", makeTasks(1, 4))
	require.NoError(t, err)
	// The staged attempt's request is repeated instead of running a new one.
	assert.Equal(t, 1, report.Tasks[0].Attempts)
	assert.Len(t, f.finalRows(t, "j1", "t1"), 4)

	rec, ok, err := commit.NewStorageRecordStore(f.st).Get(context.Background(), "j1", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.Tasks[0].AttemptID, rec.AttemptID)
}

func TestRunner_TaskFailureAbortsJob(t *testing.T) {
	f := newFixture(t)
	f.st.Fail(storagetest.OpWrite, "staging/j1/t2/", errors.New("disk full"))
	r := f.runner(t, Config{Parallelism: 1, MaxAttempts: 2, Speculation: 1})

	_, err := r.Run(context.Background(), "j1", makeTasks(2, 3))
	require.Error(t, err)
	var tfe *TaskFailedError
	require.ErrorAs(t, err, &tfe)
	assert.Equal(t, "t2", tfe.TaskID)
	assert.Equal(t, 2, tfe.Attempts)

	status, err := f.coord.JobStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, status.Aborted)
	assert.False(t, status.Committed)
	assert.Empty(t, status.Records)
	assert.False(t, f.exists(t, commit.FinalPath("j1", "t1")))
	assert.Empty(t, f.stagingFiles(t, "j1"))
}

func TestRunner_OpenFailure(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, Config{MaxAttempts: 1, Speculation: 1})
	tasks := []Task{{
		ID:   "t1",
		Open: func(context.Context) (attempt.RowSource, error) { return nil, errors.New("no such input") },
	}}

	_, err := r.Run(context.Background(), "j1", tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such input")
}

func TestRunner_Validation(t *testing.T) {
	f := newFixture(t)
	r := f.runner(t, DefaultConfig())

	_, err := r.Run(context.Background(), "j1", append(makeTasks(1, 1), makeTasks(1, 1)...))
	assert.ErrorContains(t, err, "duplicate task")

	_, err = r.Run(context.Background(), "bad/job", makeTasks(1, 1))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxAttempts: 0, Speculation: 1}.Validate())
	assert.Error(t, Config{MaxAttempts: 1, Speculation: 0}.Validate())
	assert.Error(t, Config{Parallelism: -1, MaxAttempts: 1, Speculation: 1}.Validate())
	assert.Equal(t, 4, Config{Parallelism: 4}.GetParallelism())
	assert.Positive(t, Config{}.GetParallelism())
}
