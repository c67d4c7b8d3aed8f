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

package azureclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known Azurite development account.
const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestServiceURL(t *testing.T) {
	u, err := ServiceURL(WithStorageAccount("lake"))
	require.NoError(t, err)
	assert.Equal(t, "https://lake.blob.core.windows.net/", u)

	u, err = ServiceURL(WithStorageAccount("lake"), WithEndpoint("http://127.0.0.1:10000/devstoreaccount1"))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1/", u)

	_, err = ServiceURL()
	assert.Error(t, err)
}

func TestManager_GetBlobCachesClients(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	a, err := m.GetBlob(ctx, WithConnectionString(azuriteConnectionString))
	require.NoError(t, err)
	b, err := m.GetBlob(ctx, WithConnectionString(azuriteConnectionString))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NotNil(t, a.Tracer)
	assert.Contains(t, a.Client.URL(), "127.0.0.1:10000/devstoreaccount1")

	_, err = m.GetBlob(ctx)
	assert.Error(t, err)
}
