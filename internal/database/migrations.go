package database

import (
	"context"
	"fmt"
)

// Schema evolution is additive only: new columns arrive as nullable or
// defaulted so older store files keep working.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		method TEXT DEFAULT 'GET',
		status TEXT DEFAULT 'Pending',
		status_code INTEGER DEFAULT 0,
		risk_score INTEGER DEFAULT 0,
		findings TEXT DEFAULT '[]',
		folder_id INTEGER DEFAULT 1,
		response_headers TEXT DEFAULT '',
		response_body TEXT DEFAULT '',
		request_headers TEXT DEFAULT '',
		request_body TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		triage_status TEXT DEFAULT 'Unreviewed',
		is_documented BOOLEAN NOT NULL DEFAULT 1,
		source TEXT DEFAULT 'User',
		recursive BOOLEAN DEFAULT 0,
		is_workbench BOOLEAN DEFAULT 0,
		depth INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_url_method ON assets(url, method)`,
	`CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		status_code INTEGER DEFAULT 0,
		risk_score INTEGER DEFAULT 0,
		findings TEXT DEFAULT '[]',
		response_headers TEXT DEFAULT '',
		response_body TEXT DEFAULT '',
		FOREIGN KEY(asset_id) REFERENCES assets(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_history_asset_id ON scan_history(asset_id)`,
	`CREATE TABLE IF NOT EXISTS import_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		import_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		total_assets INTEGER NOT NULL,
		successful_assets INTEGER NOT NULL DEFAULT 0,
		failed_assets INTEGER NOT NULL DEFAULT 0,
		duplicate_assets INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT OR IGNORE INTO folders (id, name) VALUES (1, 'Default')`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS folders (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		method TEXT DEFAULT 'GET',
		status TEXT DEFAULT 'Pending',
		status_code INTEGER DEFAULT 0,
		risk_score INTEGER DEFAULT 0,
		findings TEXT DEFAULT '[]',
		folder_id BIGINT DEFAULT 1,
		response_headers TEXT DEFAULT '',
		response_body TEXT DEFAULT '',
		request_headers TEXT DEFAULT '',
		request_body TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		triage_status TEXT DEFAULT 'Unreviewed',
		is_documented BOOLEAN NOT NULL DEFAULT TRUE,
		source TEXT DEFAULT 'User',
		recursive BOOLEAN DEFAULT FALSE,
		is_workbench BOOLEAN DEFAULT FALSE,
		depth INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_url_method ON assets(url, method)`,
	`CREATE TABLE IF NOT EXISTS scan_history (
		id BIGSERIAL PRIMARY KEY,
		asset_id BIGINT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		status_code INTEGER DEFAULT 0,
		risk_score INTEGER DEFAULT 0,
		findings TEXT DEFAULT '[]',
		response_headers TEXT DEFAULT '',
		response_body TEXT DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_history_asset_id ON scan_history(asset_id)`,
	`CREATE TABLE IF NOT EXISTS import_operations (
		id BIGSERIAL PRIMARY KEY,
		import_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		total_assets INTEGER NOT NULL,
		successful_assets INTEGER NOT NULL DEFAULT 0,
		failed_assets INTEGER NOT NULL DEFAULT 0,
		duplicate_assets INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO folders (id, name) VALUES (1, 'Default') ON CONFLICT DO NOTHING`,
}

func (s *sqlStore) createTables(ctx context.Context) error {
	schema := sqliteSchema
	if s.cfg.Driver == "postgres" {
		schema = postgresSchema
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
