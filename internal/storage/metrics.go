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

package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	opCounter  metric.Int64Counter
	opErrors   metric.Int64Counter
	bytesMoved metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakewriter/internal/storage")

	var err error
	opCounter, err = meter.Int64Counter(
		"lakewriter.storage.operations",
		metric.WithDescription("Number of storage operations"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create storage.operations counter: %w", err))
	}

	opErrors, err = meter.Int64Counter(
		"lakewriter.storage.errors",
		metric.WithDescription("Number of failed storage operations"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create storage.errors counter: %w", err))
	}

	bytesMoved, err = meter.Int64Counter(
		"lakewriter.storage.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes written to or read from storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create storage.bytes counter: %w", err))
	}
}

func recordOp(ctx context.Context, backend, op string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
	)
	opCounter.Add(ctx, 1, attrs)
	if err != nil && !IsNotFound(err) {
		opErrors.Add(ctx, 1, attrs)
	}
}

func recordBytes(ctx context.Context, backend, op string, n int64) {
	bytesMoved.Add(ctx, n, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
	))
}
