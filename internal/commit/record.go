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
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cardinalhq/lakewriter/internal/cbor"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Record is the durable claim that one attempt's output is a task's output.
// Once written it is never replaced, only deleted when the job is aborted.
type Record struct {
	JobID       string    `cbor:"job"`
	TaskID      string    `cbor:"task"`
	AttemptID   string    `cbor:"attempt"`
	StagingPath string    `cbor:"staging"`
	FinalPath   string    `cbor:"final"`
	Coordinator string    `cbor:"coordinator,omitempty"`
	CommittedAt time.Time `cbor:"committed_at"`
}

// RecordStore persists commit records and job abort markers.
type RecordStore interface {
	// PutIfAbsent stores rec unless the task already has a record. It
	// returns the record that is in place afterwards and whether it is rec.
	PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error)

	// Get returns the task's record, if any.
	Get(ctx context.Context, jobID, taskID string) (Record, bool, error)

	// List returns every record of a job, ordered by task id.
	List(ctx context.Context, jobID string) ([]Record, error)

	// Delete removes a task's record. A missing record is not an error.
	Delete(ctx context.Context, jobID, taskID string) error

	// MarkAborted durably marks a job aborted. It is idempotent.
	MarkAborted(ctx context.Context, jobID string) error

	// IsAborted reports whether MarkAborted has been called for the job.
	IsAborted(ctx context.Context, jobID string) (bool, error)
}

// StorageRecordStore keeps records as CBOR objects in the same store as the
// data, using WriteIfAbsent as the test-and-set.
type StorageRecordStore struct {
	st storage.Storage
}

var _ RecordStore = (*StorageRecordStore)(nil)

// NewStorageRecordStore returns a record store backed by st.
func NewStorageRecordStore(st storage.Storage) *StorageRecordStore {
	return &StorageRecordStore{st: st}
}

func (s *StorageRecordStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	data, err := cbor.Marshal(&rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("commit: encode record: %w", err)
	}
	p := RecordPath(rec.JobID, rec.TaskID)

	// A record can vanish between a failed put and the read when an abort
	// races us, so retry a few times before giving up.
	for range 3 {
		created, err := s.st.WriteIfAbsent(ctx, p, data)
		if err != nil {
			return Record{}, false, err
		}
		if created {
			return rec, true, nil
		}
		existing, ok, err := s.Get(ctx, rec.JobID, rec.TaskID)
		if err != nil {
			return Record{}, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return Record{}, false, fmt.Errorf("commit: record %s kept disappearing", p)
}

func (s *StorageRecordStore) Get(ctx context.Context, jobID, taskID string) (Record, bool, error) {
	data, err := s.st.Read(ctx, RecordPath(jobID, taskID))
	if err != nil {
		if storage.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("commit: decode record %s/%s: %w", jobID, taskID, err)
	}
	return rec, true, nil
}

func (s *StorageRecordStore) List(ctx context.Context, jobID string) ([]Record, error) {
	paths, err := s.st.List(ctx, recordPrefix(jobID))
	if err != nil {
		return nil, err
	}
	var recs []Record
	for _, p := range paths {
		taskID, ok := strings.CutSuffix(path.Base(p), recordExt)
		if !ok || path.Dir(p)+"/" != recordPrefix(jobID) {
			continue
		}
		rec, found, err := s.Get(ctx, jobID, taskID)
		if err != nil {
			return nil, err
		}
		if found {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b Record) int { return strings.Compare(a.TaskID, b.TaskID) })
	return recs, nil
}

func (s *StorageRecordStore) Delete(ctx context.Context, jobID, taskID string) error {
	return s.st.Delete(ctx, RecordPath(jobID, taskID))
}

func (s *StorageRecordStore) MarkAborted(ctx context.Context, jobID string) error {
	_, err := s.st.WriteIfAbsent(ctx, AbortMarkerPath(jobID), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	return err
}

func (s *StorageRecordStore) IsAborted(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.st.Exists(ctx, AbortMarkerPath(jobID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	return ok, nil
}
