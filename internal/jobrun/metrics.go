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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	jobsFinished metric.Int64Counter
	taskRetries  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/jobrun")

	var err error
	jobsFinished, err = meter.Int64Counter(
		"lakewriter.jobrun.jobs",
		metric.WithDescription("Jobs finished, by outcome"),
	)
	if err != nil {
		panic(err)
	}

	taskRetries, err = meter.Int64Counter(
		"lakewriter.jobrun.task.retries",
		metric.WithDescription("Task attempt rounds that failed and were retried"),
	)
	if err != nil {
		panic(err)
	}
}
