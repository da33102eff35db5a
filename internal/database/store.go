package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/logger"
)

// sqlStore is the single durable record of the inventory. One store-wide
// mutex makes every read-modify-write sequence (dup-check + insert,
// history-archive + overwrite, finding-flip + rescore) atomic with respect
// to the scheduler loop, manual rescans, and bulk imports, which all mutate
// the same rows concurrently.
type sqlStore struct {
	mu     sync.Mutex
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

// getPlaceholder returns the parameter placeholder for the configured driver.
func (s *sqlStore) getPlaceholder(n int) string {
	if s.cfg.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (core.AssetStore, error) {
	log = log.WithComponent("database")

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: log,
	}

	if err := store.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Infow("Database initialized",
		"driver", cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return store, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
