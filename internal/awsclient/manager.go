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

// Package awsclient builds S3 clients for the storage layer from the
// default AWS credential chain, optionally assuming a role per client.
package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSessionName tags assumed-role sessions in CloudTrail.
const DefaultSessionName = "lakewriter"

// Manager hands out S3 clients that share one base config. Credentials for
// assumed roles are cached per region and role so every client of a role
// refreshes through the same provider.
type Manager struct {
	base    aws.Config
	sts     *sts.Client
	session string
	tracer  trace.Tracer

	mu        sync.Mutex
	providers map[roleKey]aws.CredentialsProvider
}

// NewManager loads the default AWS config and instruments every client
// built from it. sessionName may be empty.
func NewManager(ctx context.Context, sessionName string) (*Manager, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	if sessionName == "" {
		sessionName = DefaultSessionName
	}
	return &Manager{
		base:      cfg,
		sts:       sts.NewFromConfig(cfg),
		session:   sessionName,
		tracer:    otel.Tracer("github.com/cardinalhq/lakewriter/internal/awsclient"),
		providers: make(map[roleKey]aws.CredentialsProvider),
	}, nil
}
