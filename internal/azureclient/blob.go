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

// Package azureclient builds Azure Blob Storage clients. Clients are cached
// per endpoint and share one credential.
package azureclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// BlobClient is a blob service client plus the tracer its callers use.
type BlobClient struct {
	Client *azblob.Client
	Tracer trace.Tracer
}

// Manager hands out BlobClients. The Azure credential is resolved on the
// first client that needs it, so a connection-string setup never touches it.
type Manager struct {
	tracer trace.Tracer

	mu      sync.Mutex
	cred    azcore.TokenCredential
	clients map[string]*BlobClient
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		tracer:  otel.Tracer("github.com/cardinalhq/lakewriter/internal/azureclient"),
		clients: make(map[string]*BlobClient),
	}
}

type blobConfig struct {
	account          string
	endpoint         string
	connectionString string
}

// BlobOption configures GetBlob.
type BlobOption func(*blobConfig)

// WithStorageAccount selects the account whose default endpoint is used.
func WithStorageAccount(account string) BlobOption {
	return func(c *blobConfig) { c.account = account }
}

// WithEndpoint overrides the blob service URL.
func WithEndpoint(endpoint string) BlobOption {
	return func(c *blobConfig) { c.endpoint = endpoint }
}

// WithConnectionString authenticates with a storage connection string
// instead of the default Azure credential chain. Azurite uses this.
func WithConnectionString(cs string) BlobOption {
	return func(c *blobConfig) { c.connectionString = cs }
}

// ServiceURL returns the blob endpoint for the given options.
func ServiceURL(opts ...BlobOption) (string, error) {
	bc := blobConfig{}
	for _, o := range opts {
		o(&bc)
	}
	return bc.serviceURL()
}

func (bc blobConfig) serviceURL() (string, error) {
	if bc.endpoint != "" {
		return strings.TrimSuffix(bc.endpoint, "/") + "/", nil
	}
	if bc.account == "" {
		return "", fmt.Errorf("azure storage account or endpoint is required")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", bc.account), nil
}

// GetBlob returns a cached client for the configured endpoint.
func (m *Manager) GetBlob(_ context.Context, opts ...BlobOption) (*BlobClient, error) {
	bc := blobConfig{}
	for _, o := range opts {
		o(&bc)
	}

	key := "cs:" + bc.connectionString
	if bc.connectionString == "" {
		u, err := bc.serviceURL()
		if err != nil {
			return nil, err
		}
		key = u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[key]; ok {
		return client, nil
	}

	var (
		client *azblob.Client
		err    error
	)
	if bc.connectionString != "" {
		client, err = azblob.NewClientFromConnectionString(bc.connectionString, nil)
	} else {
		if m.cred == nil {
			cred, cerr := azidentity.NewDefaultAzureCredential(nil)
			if cerr != nil {
				return nil, fmt.Errorf("loading Azure credentials: %w", cerr)
			}
			m.cred = cred
		}
		client, err = azblob.NewClient(key, m.cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	bclient := &BlobClient{Client: client, Tracer: m.tracer}
	m.clients[key] = bclient
	return bclient, nil
}
