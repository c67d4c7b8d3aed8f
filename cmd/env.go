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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cardinalhq/lakewriter/config"
	"github.com/cardinalhq/lakewriter/internal/colfile"
	"github.com/cardinalhq/lakewriter/internal/commit"
	"github.com/cardinalhq/lakewriter/internal/commitdb"
	"github.com/cardinalhq/lakewriter/internal/storage"
)

// runtimeEnv is what a command needs to read and commit job output.
type runtimeEnv struct {
	cfg   *config.Config
	st    storage.Storage
	coord *commit.Coordinator
	close func()
}

func openEnv(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	env := &runtimeEnv{cfg: cfg, st: st, close: func() {}}
	var records commit.RecordStore
	switch cfg.Commit.RecordStore {
	case config.RecordStorePostgres:
		pool, err := commitdb.Connect(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to commitdb: %w", err)
		}
		env.close = pool.Close
		records = commitdb.NewStore(pool)
	default:
		records = commit.NewStorageRecordStore(st)
	}
	env.coord = commit.NewCoordinator(st, records)

	slog.Info("Opened storage",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("recordStore", cfg.Commit.RecordStore))
	return env, nil
}

// openColumnFile opens a local column file, or when stored is set fetches
// p from storage first.
func (e *runtimeEnv) openColumnFile(ctx context.Context, p string, stored bool) (*colfile.File, func(), error) {
	if !stored {
		f, err := colfile.OpenFile(p)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}

	local, _, err := e.st.Download(ctx, e.cfg.TmpDir, p)
	if err != nil {
		return nil, nil, err
	}
	f, err := colfile.OpenFile(local)
	if err != nil {
		_ = os.Remove(local)
		return nil, nil, err
	}
	return f, func() {
		_ = f.Close()
		_ = os.Remove(local)
	}, nil
}
