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
package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func bufferedContext() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	return WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
}

func TestWithJobAndTask(t *testing.T) {
	ctx, buf := bufferedContext()
	ctx = WithRun(ctx, "abcd2345")
	ctx = WithJob(ctx, "j1")
	ctx = WithTask(ctx, "part-0")
	FromContext(ctx).Info("staged")

	out := buf.String()
	assert.Contains(t, out, "operationID=abcd2345")
	assert.Contains(t, out, "jobID=j1")
	assert.Contains(t, out, "taskID=part-0")
}

func TestWith_DoesNotTouchParent(t *testing.T) {
	parent, buf := bufferedContext()
	_ = WithTask(parent, "t1")
	FromContext(parent).Info("job level")
	assert.NotContains(t, buf.String(), "taskID")
}

func TestAttempt(t *testing.T) {
	ctx, buf := bufferedContext()
	FromContext(ctx).Info("committed", Attempt("j1", "t1", "a1")...)

	out := buf.String()
	assert.Contains(t, out, "jobID=j1")
	assert.Contains(t, out, "taskID=t1")
	assert.Contains(t, out, "attemptID=a1")
}
