package risk

import (
	"github.com/apexsec/apex/pkg/types"
)

// Per-severity weights. The asset's risk_score is always exactly the sum of
// these weights over non-false-positive findings; it is never hand-edited.
var weights = map[types.Severity]int{
	types.SeverityCritical: 100,
	types.SeverityHigh:     50,
	types.SeverityMedium:   25,
	types.SeverityLow:      10,
	types.SeverityInfo:     0,
}

// Weight returns the score contribution of a single severity.
func Weight(s types.Severity) int {
	return weights[s]
}

// Score aggregates a finding set, skipping findings flagged false-positive.
// Shared by the post-scan path and the triage recalculation path.
func Score(findings []types.Finding) int {
	score := 0
	for _, f := range findings {
		if f.IsFP {
			continue
		}
		score += weights[f.Severity]
	}
	return score
}

// StatusFor derives the scan status label from an aggregated score. The
// mapping is deterministic and re-derived on every scan and triage edit.
func StatusFor(score int) string {
	switch {
	case score >= 100:
		return types.StatusCritical
	case score >= 50:
		return types.StatusWarning
	case score > 0:
		return types.StatusSuspicious
	default:
		return types.StatusSafe
	}
}
