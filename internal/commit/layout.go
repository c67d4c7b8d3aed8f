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
	"fmt"
	"path"
	"strings"
)

// Storage layout, relative to the store root:
//
//	staging/<job>/<task>/<attempt>.col   one per attempt, never shared
//	final/<job>/<task>.col               visible output of the committed attempt
//	final/<job>/_COMMITTED               job manifest, written by CommitJob
//	_commits/<job>/<task>.rec            durable commit record
//	_commits/<job>/_job.rec              the job's outcome, claimed once
//	_commits/<job>/_ABORTED              abort marker, written by AbortJob
const (
	stagingRoot = "staging"
	finalRoot   = "final"
	recordsRoot = "_commits"

	fileExt      = ".col"
	recordExt    = ".rec"
	manifestName = "_COMMITTED"
	abortedName  = "_ABORTED"
)

// StagingPath is where an attempt writes its output before committing.
func StagingPath(jobID, taskID, attemptID string) string {
	return path.Join(stagingRoot, jobID, taskID, attemptID+fileExt)
}

// FinalPath is where the committed attempt's output of a task lives.
func FinalPath(jobID, taskID string) string {
	return path.Join(finalRoot, jobID, taskID+fileExt)
}

// RecordPath is where the storage-backed record store keeps a task's record.
func RecordPath(jobID, taskID string) string {
	return path.Join(recordsRoot, jobID, taskID+recordExt)
}

// ManifestPath is the job's commit manifest.
func ManifestPath(jobID string) string {
	return path.Join(finalRoot, jobID, manifestName)
}

// AbortMarkerPath marks a job as aborted.
func AbortMarkerPath(jobID string) string {
	return path.Join(recordsRoot, jobID, abortedName)
}

func stagingPrefix(jobID string) string { return path.Join(stagingRoot, jobID) + "/" }
func finalPrefix(jobID string) string   { return path.Join(finalRoot, jobID) + "/" }
func recordPrefix(jobID string) string  { return path.Join(recordsRoot, jobID) + "/" }

// taskFromFinalPath returns the task id of a final output path under jobID.
func taskFromFinalPath(jobID, p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, finalPrefix(jobID))
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	return strings.CutSuffix(rest, fileExt)
}

// taskFromStagingPath returns the task id of a staging path under jobID.
func taskFromStagingPath(jobID, p string) (string, bool) {
	rest, ok := strings.CutPrefix(p, stagingPrefix(jobID))
	if !ok {
		return "", false
	}
	taskID, file, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(file, "/") || !strings.HasSuffix(file, fileExt) {
		return "", false
	}
	return taskID, true
}

// ValidateID rejects ids that would not map onto a single path segment.
func ValidateID(kind, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("commit: %s id is empty", kind)
	case id == "." || id == "..":
		return fmt.Errorf("commit: %s id %q is not allowed", kind, id)
	case strings.ContainsAny(id, "/\\"):
		return fmt.Errorf("commit: %s id %q contains a path separator", kind, id)
	case strings.HasPrefix(id, "_"):
		return fmt.Errorf("commit: %s id %q must not start with an underscore", kind, id)
	}
	return nil
}
