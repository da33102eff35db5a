package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apexsec/apex/internal/risk"
	"github.com/apexsec/apex/pkg/types"
)

// ErrFindingNotFound is returned when a false-positive toggle names a
// (short, evidence) pair that no stored finding matches.
var ErrFindingNotFound = errors.New("finding not found")

func (s *sqlStore) loadFindings(ctx context.Context, assetID int64) ([]types.Finding, error) {
	var findingsJSON string
	query := fmt.Sprintf(`SELECT findings FROM assets WHERE id = %s`, s.getPlaceholder(1))
	if err := s.db.GetContext(ctx, &findingsJSON, query, assetID); err != nil {
		return nil, fmt.Errorf("failed to load findings for asset %d: %w", assetID, err)
	}

	var findings []types.Finding
	if err := json.Unmarshal([]byte(findingsJSON), &findings); err != nil {
		return nil, fmt.Errorf("corrupt findings blob for asset %d: %w", assetID, err)
	}
	return findings, nil
}

func (s *sqlStore) storeFindings(ctx context.Context, assetID int64, findings []types.Finding) error {
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	score := risk.Score(findings)
	status := risk.StatusFor(score)

	// A Connection Failed row keeps its status: rescoring findings there is
	// a no-op because the probe never produced any. Touching updated_at
	// restarts the staleness clock, so a row the operator just triaged is
	// not immediately re-probed underneath the edit.
	update := fmt.Sprintf(`UPDATE assets SET findings = %s, risk_score = %s, status = %s,
		updated_at = CURRENT_TIMESTAMP
		WHERE id = %s AND status != %s`,
		s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3),
		s.getPlaceholder(4), s.getPlaceholder(5))
	if _, err := s.db.ExecContext(ctx, update, string(findingsJSON), score, status, assetID, types.StatusConnectionFailed); err != nil {
		return fmt.Errorf("failed to store findings: %w", err)
	}
	return nil
}

// UpdateFindingFalsePositive flips the false-positive flag on the finding
// matching (short, evidence) and rescores the asset in the same locked
// sequence, so the score and status always reflect the stored flags.
func (s *sqlStore) UpdateFindingFalsePositive(ctx context.Context, assetID int64, short, evidence string, isFP bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings, err := s.loadFindings(ctx, assetID)
	if err != nil {
		return err
	}

	matched := false
	for i := range findings {
		if findings[i].Short == short && findings[i].Evidence == evidence {
			findings[i].IsFP = isFP
			if isFP {
				findings[i].FPReason = reason
			} else {
				findings[i].FPReason = ""
			}
			matched = true
		}
	}
	if !matched {
		return fmt.Errorf("%w: %s on asset %d", ErrFindingNotFound, short, assetID)
	}

	return s.storeFindings(ctx, assetID, findings)
}

// RecalculateRisk rescans the stored findings and rewrites the asset's
// risk score and derived status without touching the findings themselves.
func (s *sqlStore) RecalculateRisk(ctx context.Context, assetID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings, err := s.loadFindings(ctx, assetID)
	if err != nil {
		return err
	}
	return s.storeFindings(ctx, assetID, findings)
}

func (s *sqlStore) UpdateTriage(ctx context.Context, id int64, triageStatus, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`UPDATE assets SET triage_status = %s, notes = %s,
		updated_at = CURRENT_TIMESTAMP WHERE id = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2), s.getPlaceholder(3))
	if _, err := s.db.ExecContext(ctx, query, triageStatus, notes, id); err != nil {
		return fmt.Errorf("failed to update triage: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateSource(ctx context.Context, id int64, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`UPDATE assets SET source = %s WHERE id = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2))
	if _, err := s.db.ExecContext(ctx, query, source, id); err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateWorkbench(ctx context.Context, id int64, isWorkbench bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`UPDATE assets SET is_workbench = %s WHERE id = %s`,
		s.getPlaceholder(1), s.getPlaceholder(2))
	if _, err := s.db.ExecContext(ctx, query, isWorkbench, id); err != nil {
		return fmt.Errorf("failed to update workbench flag: %w", err)
	}
	return nil
}
