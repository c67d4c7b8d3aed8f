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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	commitRequests metric.Int64Counter
	jobCommits     metric.Int64Counter
	jobAborts      metric.Int64Counter
	lockWait       metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/commit")

	var err error
	commitRequests, err = meter.Int64Counter(
		"lakewriter.commit.requests",
		metric.WithDescription("Number of task commit requests by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.requests counter: %w", err))
	}

	jobCommits, err = meter.Int64Counter(
		"lakewriter.commit.job.commits",
		metric.WithDescription("Number of job commits by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.job.commits counter: %w", err))
	}

	jobAborts, err = meter.Int64Counter(
		"lakewriter.commit.job.aborts",
		metric.WithDescription("Number of job aborts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.job.aborts counter: %w", err))
	}

	lockWait, err = meter.Float64Histogram(
		"lakewriter.commit.lock.wait",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent waiting for a task's commit lock"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create commit.lock.wait histogram: %w", err))
	}
}
