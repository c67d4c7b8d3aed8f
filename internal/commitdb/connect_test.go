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

package commitdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"URL", "HOST", "PORT", "USER", "PASSWORD", "DBNAME", "SSLMODE"} {
		t.Setenv("COMMITDB_"+k, "")
	}
	t.Setenv("OTEL_SERVICE_NAME", "")
}

func TestDatabaseURLFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    string
		wantErr string
	}{
		{
			name: "url wins",
			env:  map[string]string{"COMMITDB_URL": "postgresql://x/y", "COMMITDB_HOST": "ignored"},
			want: "postgresql://x/y",
		},
		{
			name:    "missing host and dbname",
			env:     map[string]string{},
			wantErr: "COMMITDB_HOST, COMMITDB_DBNAME",
		},
		{
			name: "parts",
			env: map[string]string{
				"COMMITDB_HOST":     "db",
				"COMMITDB_DBNAME":   "commits",
				"COMMITDB_USER":     "lw",
				"COMMITDB_PASSWORD": "p@ss",
				"COMMITDB_SSLMODE":  "require",
				"OTEL_SERVICE_NAME": "lakewriter ingest",
			},
			want: "postgresql://lw:p%40ss@db:5432/commits?application_name=lakewriter_ingest&sslmode=require",
		},
		{
			name: "port and user only",
			env:  map[string]string{"COMMITDB_HOST": "db", "COMMITDB_DBNAME": "c", "COMMITDB_PORT": "6543", "COMMITDB_USER": "lw"},
			want: "postgresql://lw@db:6543/c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := DatabaseURLFromEnv(EnvPrefix)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect_NotConfigured(t *testing.T) {
	clearEnv(t)
	_, err := Connect(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestSanitizeAppName(t *testing.T) {
	assert.Equal(t, "a-b_c_d", sanitizeAppName("a-b_c.d"))
	long := sanitizeAppName(string(make([]byte, 100)))
	assert.Len(t, long, 63)
}
