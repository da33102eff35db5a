package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/pkg/types"
)

const assetColumns = `id, url, method, status, status_code, risk_score, findings, folder_id,
	response_headers, response_body, request_headers, request_body, created_at, updated_at,
	notes, triage_status, is_documented, source, recursive, is_workbench, depth`

// assetRow widens types.Asset for sqlx struct scanning: the findings column
// is a JSON blob that unmarshals into the embedded struct's slice afterwards.
type assetRow struct {
	types.Asset
	FindingsJSON string `db:"findings"`
}

func (r assetRow) asset() types.Asset {
	a := r.Asset
	// A corrupt findings blob degrades to an empty set rather than losing
	// the whole row.
	if err := json.Unmarshal([]byte(r.FindingsJSON), &a.Findings); err != nil {
		a.Findings = nil
	}
	return a
}

func (s *sqlStore) queryAssets(ctx context.Context, query string, args ...interface{}) ([]types.Asset, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}

	assets := make([]types.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, r.asset())
	}
	if len(assets) == 0 {
		return nil, nil
	}
	return assets, nil
}

// AddAsset inserts a new Pending asset or returns the existing id for the
// (url, method) pair. On an existing row the recursive flag may only be
// upgraded to true, and the source may be upgraded by any non-Recursive
// label; a Recursive insert never overwrites an explicit source.
func (s *sqlStore) AddAsset(ctx context.Context, p core.AddAssetParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method := p.Method
	if method == "" {
		method = "GET"
	}

	insert := fmt.Sprintf(`INSERT INTO assets (url, method, status, source, recursive, is_workbench, depth)
		VALUES (%s, %s, 'Pending', %s, %s, %s, %s)
		ON CONFLICT (url, method) DO NOTHING`,
		s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3),
		s.getPlaceholder(4), s.getPlaceholder(5), s.getPlaceholder(6))
	if _, err := s.db.ExecContext(ctx, insert, p.URL, method, p.Source, p.Recursive, p.IsWorkbench, p.Depth); err != nil {
		return 0, fmt.Errorf("failed to insert asset: %w", err)
	}

	var (
		id               int64
		currentRecursive bool
		currentSource    string
	)
	query := fmt.Sprintf(`SELECT id, recursive, source FROM assets WHERE url = %s AND method = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2))
	if err := s.db.QueryRowContext(ctx, query, p.URL, method).Scan(&id, &currentRecursive, &currentSource); err != nil {
		return 0, fmt.Errorf("failed to load asset after insert: %w", err)
	}

	if p.Recursive && !currentRecursive {
		upd := fmt.Sprintf(`UPDATE assets SET recursive = %s WHERE id = %s`,
			s.boolLiteral(true), s.getPlaceholder(1))
		if _, err := s.db.ExecContext(ctx, upd, id); err != nil {
			s.logger.Warnw("Failed to upgrade recursive flag", "asset_id", id, "error", err)
		}
	}

	if p.Source != types.SourceRecursive && p.Source != currentSource {
		upd := fmt.Sprintf(`UPDATE assets SET source = %s WHERE id = %s`,
			s.getPlaceholder(1), s.getPlaceholder(2))
		if _, err := s.db.ExecContext(ctx, upd, p.Source, id); err != nil {
			s.logger.Warnw("Failed to upgrade source", "asset_id", id, "error", err)
		}
	}

	if p.IsWorkbench {
		upd := fmt.Sprintf(`UPDATE assets SET is_workbench = %s WHERE id = %s`,
			s.boolLiteral(true), s.getPlaceholder(1))
		if _, err := s.db.ExecContext(ctx, upd, id); err != nil {
			s.logger.Warnw("Failed to set workbench flag", "asset_id", id, "error", err)
		}
	}

	return id, nil
}

func (s *sqlStore) boolLiteral(v bool) string {
	if s.cfg.Driver == "postgres" {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}

func (s *sqlStore) GetAssets(ctx context.Context) ([]types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryAssets(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id DESC`)
}

func (s *sqlStore) GetAsset(ctx context.Context, id int64) (*types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT %s FROM assets WHERE id = %s`, assetColumns, s.getPlaceholder(1))
	assets, err := s.queryAssets(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("asset %d not found", id)
	}
	return &assets[0], nil
}

// GetStaleAssets returns up to limit assets that are either Pending or whose
// last update is older than the staleness window, oldest first. This is the
// scheduler's work queue: new rows are picked up unconditionally and old
// rows are periodically re-verified.
func (s *sqlStore) GetStaleAssets(ctx context.Context, limit, staleMinutes int) ([]types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var query string
	if s.cfg.Driver == "postgres" {
		query = `SELECT ` + assetColumns + ` FROM assets
			WHERE status = 'Pending' OR updated_at + ($1 * interval '1 minute') < now()
			ORDER BY updated_at ASC LIMIT $2`
	} else {
		query = `SELECT ` + assetColumns + ` FROM assets
			WHERE status = 'Pending' OR datetime(updated_at, '+' || ? || ' minutes') < datetime('now')
			ORDER BY updated_at ASC LIMIT ?`
	}
	return s.queryAssets(ctx, query, staleMinutes, limit)
}

func (s *sqlStore) GetPendingAssets(ctx context.Context, limit int) ([]types.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT %s FROM assets WHERE status = 'Pending' ORDER BY created_at ASC LIMIT %s`,
		assetColumns, s.getPlaceholder(1))
	return s.queryAssets(ctx, query, limit)
}

// UpdateScanResult overwrites the asset's live scan fields. If the prior
// state was non-trivial (a real status code or a body) it is archived to
// scan_history first, inside the same locked sequence, so a reader never
// sees new live fields without the corresponding history row.
func (s *sqlStore) UpdateScanResult(ctx context.Context, id int64, result *types.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		oldCode     int
		oldRisk     int
		oldFindings string
		oldHeaders  string
		oldBody     string
	)
	query := fmt.Sprintf(`SELECT status_code, risk_score, findings, response_headers, response_body
		FROM assets WHERE id = %s`, s.getPlaceholder(1))
	err := s.db.QueryRowContext(ctx, query, id).Scan(&oldCode, &oldRisk, &oldFindings, &oldHeaders, &oldBody)
	if err == nil && (oldCode != 0 || oldBody != "") {
		hist := fmt.Sprintf(`INSERT INTO scan_history (asset_id, status_code, risk_score, findings, response_headers, response_body)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3),
			s.getPlaceholder(4), s.getPlaceholder(5), s.getPlaceholder(6))
		if _, err := s.db.ExecContext(ctx, hist, id, oldCode, oldRisk, oldFindings, oldHeaders, oldBody); err != nil {
			return fmt.Errorf("failed to archive scan history: %w", err)
		}
	}

	findingsJSON, err := json.Marshal(result.Findings)
	if err != nil {
		findingsJSON = []byte("[]")
	}

	update := fmt.Sprintf(`UPDATE assets SET status = %s, status_code = %s, risk_score = %s, findings = %s,
		response_headers = %s, response_body = %s, request_headers = %s, request_body = %s,
		updated_at = CURRENT_TIMESTAMP WHERE id = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3), s.getPlaceholder(4),
		s.getPlaceholder(5), s.getPlaceholder(6), s.getPlaceholder(7), s.getPlaceholder(8),
		s.getPlaceholder(9))
	if _, err := s.db.ExecContext(ctx, update,
		result.Status, result.StatusCode, result.RiskScore, string(findingsJSON),
		result.ResponseHeaders, result.ResponseBody, result.RequestHeaders, result.RequestBody, id); err != nil {
		return fmt.Errorf("failed to update scan result: %w", err)
	}
	return nil
}

// GetAssetHistory returns the most recent 50 audit records for an asset,
// newest first. The cap is applied at read time; writes are unbounded.
func (s *sqlStore) GetAssetHistory(ctx context.Context, assetID int64) ([]types.ScanHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type historyRow struct {
		types.ScanHistoryEntry
		FindingsJSON string `db:"findings"`
	}

	query := fmt.Sprintf(`SELECT id, asset_id, timestamp, status_code, risk_score, findings,
		response_headers, response_body
		FROM scan_history WHERE asset_id = %s ORDER BY id DESC LIMIT 50`, s.getPlaceholder(1))

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, assetID); err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}

	var history []types.ScanHistoryEntry
	for _, r := range rows {
		e := r.ScanHistoryEntry
		if err := json.Unmarshal([]byte(r.FindingsJSON), &e.Findings); err != nil {
			e.Findings = nil
		}
		history = append(history, e)
	}
	return history, nil
}

// AuthorizedDomains computes scope as a live projection: the distinct
// hostnames of every asset the operator added non-recursively. Authorization
// can only grow through explicit additions.
func (s *sqlStore) AuthorizedDomains(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT url FROM assets WHERE source != 'Recursive'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized domains: %w", err)
	}
	defer rows.Close()

	domains := make(map[string]struct{})
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
			domains[parsed.Hostname()] = struct{}{}
		} else if strings.Contains(raw, "/") {
			if host := strings.SplitN(raw, "/", 2)[0]; host != "" {
				domains[host] = struct{}{}
			}
		}
	}
	return domains, rows.Err()
}

func (s *sqlStore) AssetExists(ctx context.Context, assetURL, method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM assets WHERE url = %s AND method = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2))
	if err := s.db.QueryRowContext(ctx, query, assetURL, method).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func (s *sqlStore) IsRecentlyScanned(ctx context.Context, assetURL, method string, withinMinutes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var query string
	if s.cfg.Driver == "postgres" {
		query = `SELECT 1 FROM assets WHERE url = $1 AND method = $2 AND status != 'Pending'
			AND updated_at + ($3 * interval '1 minute') > now()`
	} else {
		query = `SELECT 1 FROM assets WHERE url = ? AND method = ? AND status != 'Pending'
			AND datetime(updated_at, '+' || ? || ' minutes') > datetime('now')`
	}

	var one int
	err := s.db.QueryRowContext(ctx, query, assetURL, method, withinMinutes).Scan(&one)
	return err == nil
}

func (s *sqlStore) DeleteAsset(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`DELETE FROM assets WHERE id = %s`, s.getPlaceholder(1))
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

func (s *sqlStore) ClearAssets(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}
	return nil
}

// PurgeOutOfScopeRecursive deletes Recursive-sourced rows whose host no
// longer matches the authorized-domain projection, e.g. after the operator
// removed the roots that admitted them.
func (s *sqlStore) PurgeOutOfScopeRecursive(ctx context.Context) (int, error) {
	domains, err := s.AuthorizedDomains(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM assets WHERE source = 'Recursive'`)
	if err != nil {
		return 0, fmt.Errorf("failed to query recursive assets: %w", err)
	}

	var toDelete []int64
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			toDelete = append(toDelete, id)
			continue
		}
		host := parsed.Hostname()
		authorized := false
		for d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				authorized = true
				break
			}
		}
		if !authorized {
			toDelete = append(toDelete, id)
		}
	}
	rows.Close()

	del := fmt.Sprintf(`DELETE FROM assets WHERE id = %s`, s.getPlaceholder(1))
	for _, id := range toDelete {
		if _, err := s.db.ExecContext(ctx, del, id); err != nil {
			return 0, fmt.Errorf("failed to purge asset %d: %w", id, err)
		}
	}
	return len(toDelete), nil
}

// SanitizeURLs repairs rows imported from messy sources: rows whose url
// carries control characters are deleted, rows with trailing CSV debris are
// trimmed to the first delimiter.
func (s *sqlStore) SanitizeURLs(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM assets`)
	if err != nil {
		return 0, fmt.Errorf("failed to query assets: %w", err)
	}

	type fix struct {
		id  int64
		url string
	}
	var toDelete []int64
	var toFix []fix

	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			continue
		}

		hasBinary := strings.ContainsFunc(raw, func(r rune) bool {
			return (r < 32 && r != '\t' && r != '\n' && r != '\r') || r == 127 || (r > 127 && r < 160)
		})
		if hasBinary {
			toDelete = append(toDelete, id)
			continue
		}

		fields := strings.FieldsFunc(raw, func(r rune) bool {
			return r == ',' || r == ';' || r == '\t' || r == ' '
		})
		clean := ""
		if len(fields) > 0 {
			clean = strings.TrimSpace(fields[0])
		}
		if clean == "" {
			toDelete = append(toDelete, id)
		} else if clean != raw {
			toFix = append(toFix, fix{id: id, url: clean})
		}
	}
	rows.Close()

	count := 0
	upd := fmt.Sprintf(`UPDATE assets SET url = %s WHERE id = %s`, s.getPlaceholder(1), s.getPlaceholder(2))
	for _, f := range toFix {
		if _, err := s.db.ExecContext(ctx, upd, f.url, f.id); err == nil {
			count++
		}
	}
	del := fmt.Sprintf(`DELETE FROM assets WHERE id = %s`, s.getPlaceholder(1))
	for _, id := range toDelete {
		if _, err := s.db.ExecContext(ctx, del, id); err == nil {
			count++
		}
	}
	return count, nil
}
