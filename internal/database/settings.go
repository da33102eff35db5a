package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/apexsec/apex/pkg/types"
)

func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	query := fmt.Sprintf(`SELECT value FROM settings WHERE key = %s`, s.getPlaceholder(1))
	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *sqlStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO settings (key, value) VALUES (%s, %s)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		s.getPlaceholder(1), s.getPlaceholder(2))
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// RecordImport persists the bookkeeping row for a completed bulk import.
func (s *sqlStore) RecordImport(ctx context.Context, result *types.ImportResult, source string, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := result.Successful + result.Failed + result.Duplicates
	query := fmt.Sprintf(`INSERT INTO import_operations
		(import_id, source, total_assets, successful_assets, failed_assets, duplicate_assets, duration_ms)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3),
		s.getPlaceholder(4), s.getPlaceholder(5), s.getPlaceholder(6), s.getPlaceholder(7))
	if _, err := s.db.ExecContext(ctx, query,
		result.ImportID, source, total, result.Successful, result.Failed, result.Duplicates, durationMs); err != nil {
		return fmt.Errorf("failed to record import %s: %w", result.ImportID, err)
	}
	return nil
}
