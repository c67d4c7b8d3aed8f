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

package colencode

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	chunkCounter     metric.Int64Counter
	dictFallbacks    metric.Int64Counter
	chunkRawBytes    metric.Int64Counter
	chunkStoredBytes metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/colencode")

	var err error
	chunkCounter, err = meter.Int64Counter(
		"lakewriter.colencode.chunks",
		metric.WithDescription("Number of column chunks encoded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create colencode.chunks counter: %w", err))
	}

	dictFallbacks, err = meter.Int64Counter(
		"lakewriter.colencode.dictionary.fallbacks",
		metric.WithDescription("Number of chunks that fell back to plain after the dictionary cap was exceeded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create colencode.dictionary.fallbacks counter: %w", err))
	}

	chunkRawBytes, err = meter.Int64Counter(
		"lakewriter.colencode.raw.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Encoded chunk bytes before compression"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create colencode.raw.bytes counter: %w", err))
	}

	chunkStoredBytes, err = meter.Int64Counter(
		"lakewriter.colencode.stored.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Chunk bytes after optional compression"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create colencode.stored.bytes counter: %w", err))
	}
}
