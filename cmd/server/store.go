package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warp/pto-service/config"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
	"github.com/warp/pto-service/record/kvstore"
	"github.com/warp/pto-service/store/sqlite"
)

// backend is an opened record store with its health check and cleanup.
type backend struct {
	records *record.Store
	ping    func(ctx context.Context) error
	close   func() error
}

func openBackend(cfg config.StorageConfig, logger *zap.Logger, opts ...record.Option) (*backend, error) {
	opts = append([]record.Option{record.WithLogger(logger.Named("records"))}, opts...)

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory storage")
		return &backend{
			records: record.NewStore(kvstore.NewMemory(), pto.Schemas(), opts...),
			ping:    func(context.Context) error { return nil },
			close:   func() error { return nil },
		}, nil

	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite storage", zap.String("path", cfg.Path))
		return &backend{
			records: record.NewStore(db, pto.Schemas(), opts...),
			ping:    db.Ping,
			close:   db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
