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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	transitions     metric.Int64Counter
	stagedBytes     metric.Int64Counter
	runDuration     metric.Float64Histogram
	cleanupFailures metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/attempt")

	var err error
	transitions, err = meter.Int64Counter(
		"lakewriter.attempt.transitions",
		metric.WithDescription("Number of attempt state transitions by target state"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create attempt.transitions counter: %w", err))
	}

	stagedBytes, err = meter.Int64Counter(
		"lakewriter.attempt.staged.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes written to staging paths"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create attempt.staged.bytes counter: %w", err))
	}

	runDuration, err = meter.Float64Histogram(
		"lakewriter.attempt.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time from the start of an attempt's run until its staging file is written"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create attempt.run.duration histogram: %w", err))
	}

	cleanupFailures, err = meter.Int64Counter(
		"lakewriter.attempt.cleanup.failures",
		metric.WithDescription("Number of staging files that could not be deleted on abort"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create attempt.cleanup.failures counter: %w", err))
	}
}
