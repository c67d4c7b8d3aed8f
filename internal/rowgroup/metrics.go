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

package rowgroup

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	rowsAppended     metric.Int64Counter
	rowsRejected     metric.Int64Counter
	rowGroupsFlushed metric.Int64Counter
	rowGroupRows     metric.Int64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/rowgroup")

	var err error
	rowsAppended, err = meter.Int64Counter(
		"lakewriter.rowgroup.rows.appended",
		metric.WithDescription("Number of rows accepted into a row-group buffer"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rowgroup.rows.appended counter: %w", err))
	}

	rowsRejected, err = meter.Int64Counter(
		"lakewriter.rowgroup.rows.rejected",
		metric.WithDescription("Number of rows rejected by schema validation"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rowgroup.rows.rejected counter: %w", err))
	}

	rowGroupsFlushed, err = meter.Int64Counter(
		"lakewriter.rowgroup.flushed",
		metric.WithDescription("Number of row groups sealed and handed to a sink"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rowgroup.flushed counter: %w", err))
	}

	rowGroupRows, err = meter.Int64Histogram(
		"lakewriter.rowgroup.rows",
		metric.WithDescription("Rows per sealed row group"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rowgroup.rows histogram: %w", err))
	}
}
