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
	"fmt"
	"time"

	"github.com/cardinalhq/lakewriter/internal/cbor"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// Manifest lists the outputs of a committed job. Its presence is what makes
// the job's outputs authoritative for readers.
type Manifest struct {
	JobID       string         `cbor:"job"`
	CommittedAt time.Time      `cbor:"committed_at"`
	Tasks       []ManifestTask `cbor:"tasks"`
}

// ManifestTask is one task's committed output.
type ManifestTask struct {
	TaskID    string `cbor:"task"`
	AttemptID string `cbor:"attempt"`
	Path      string `cbor:"path"`
}

// writeManifest stores m unless the job already has a manifest, and
// reports whether it did.
func writeManifest(ctx context.Context, st storage.Storage, m *Manifest) (bool, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("commit: encode manifest: %w", err)
	}
	return st.WriteIfAbsent(ctx, ManifestPath(m.JobID), data)
}

// ReadManifest returns the manifest of a committed job. A job that has not
// committed yields an error satisfying storage.IsNotFound.
func ReadManifest(ctx context.Context, st storage.Storage, jobID string) (*Manifest, error) {
	data, err := st.Read(ctx, ManifestPath(jobID))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("commit: decode manifest for job %s: %w", jobID, err)
	}
	return &m, nil
}
