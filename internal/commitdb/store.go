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

// Package commitdb keeps commit records in PostgreSQL. The primary key on
// (job_id, task_id) is the test-and-set: an INSERT ... ON CONFLICT DO
// NOTHING either claims the task or leaves the existing claim in place.
package commitdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cardinalhq/lakewriter/internal/commit"
)

// DBTX is the subset of pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a commit.RecordStore over PostgreSQL.
type Store struct {
	db DBTX
}

var _ commit.RecordStore = (*Store)(nil)

// NewStore returns a store using db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const insertRecord = `INSERT INTO commit_records
  (job_id, task_id, attempt_id, staging_path, final_path, coordinator, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id, task_id) DO NOTHING`

const selectRecord = `SELECT job_id, task_id, attempt_id, staging_path, final_path, coordinator, committed_at
FROM commit_records
WHERE job_id = $1 AND task_id = $2`

const selectJobRecords = `SELECT job_id, task_id, attempt_id, staging_path, final_path, coordinator, committed_at
FROM commit_records
WHERE job_id = $1
ORDER BY task_id`

func (s *Store) PutIfAbsent(ctx context.Context, rec commit.Record) (commit.Record, bool, error) {
	// An abort can delete the winning record between our insert and read.
	for range 3 {
		tag, err := s.db.Exec(ctx, insertRecord,
			rec.JobID, rec.TaskID, rec.AttemptID, rec.StagingPath, rec.FinalPath, rec.Coordinator, rec.CommittedAt)
		if err != nil {
			return commit.Record{}, false, fmt.Errorf("commitdb: insert record %s/%s: %w", rec.JobID, rec.TaskID, err)
		}
		if tag.RowsAffected() == 1 {
			return rec, true, nil
		}
		existing, ok, err := s.Get(ctx, rec.JobID, rec.TaskID)
		if err != nil {
			return commit.Record{}, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return commit.Record{}, false, fmt.Errorf("commitdb: record %s/%s kept disappearing", rec.JobID, rec.TaskID)
}

func (s *Store) Get(ctx context.Context, jobID, taskID string) (commit.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectRecord, jobID, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return commit.Record{}, false, nil
	}
	if err != nil {
		return commit.Record{}, false, fmt.Errorf("commitdb: get record %s/%s: %w", jobID, taskID, err)
	}
	return rec, true, nil
}

func (s *Store) List(ctx context.Context, jobID string) ([]commit.Record, error) {
	rows, err := s.db.Query(ctx, selectJobRecords, jobID)
	if err != nil {
		return nil, fmt.Errorf("commitdb: list records of %s: %w", jobID, err)
	}
	defer rows.Close()

	var recs []commit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("commitdb: scan record of %s: %w", jobID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) Delete(ctx context.Context, jobID, taskID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM commit_records WHERE job_id = $1 AND task_id = $2`, jobID, taskID)
	if err != nil {
		return fmt.Errorf("commitdb: delete record %s/%s: %w", jobID, taskID, err)
	}
	return nil
}

func (s *Store) MarkAborted(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO aborted_jobs (job_id) VALUES ($1) ON CONFLICT (job_id) DO NOTHING`, jobID)
	if err != nil {
		return fmt.Errorf("commitdb: mark %s aborted: %w", jobID, err)
	}
	return nil
}

func (s *Store) IsAborted(ctx context.Context, jobID string) (bool, error) {
	var aborted bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM aborted_jobs WHERE job_id = $1)`, jobID).Scan(&aborted)
	if err != nil {
		return false, fmt.Errorf("commitdb: check %s aborted: %w", jobID, err)
	}
	return aborted, nil
}

func scanRecord(row pgx.Row) (commit.Record, error) {
	var rec commit.Record
	err := row.Scan(&rec.JobID, &rec.TaskID, &rec.AttemptID, &rec.StagingPath, &rec.FinalPath, &rec.Coordinator, &rec.CommittedAt)
	if err == nil {
		rec.CommittedAt = rec.CommittedAt.UTC()
	}
	return rec, err
}
