package risk

import (
	"testing"

	"github.com/apexsec/apex/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestScore_WeightedSum(t *testing.T) {
	findings := []types.Finding{
		{Short: "SQLi", Severity: types.SeverityHigh},
		{Short: "PII", Severity: types.SeverityMedium},
	}

	score := Score(findings)
	assert.Equal(t, 75, score)
	assert.Equal(t, types.StatusWarning, StatusFor(score))
}

func TestScore_SkipsFalsePositives(t *testing.T) {
	findings := []types.Finding{
		{Short: "Secret", Severity: types.SeverityCritical, IsFP: true, FPReason: "test fixture"},
		{Short: "Public", Severity: types.SeverityInfo},
	}

	assert.Equal(t, 0, Score(findings))
	assert.Equal(t, types.StatusSafe, StatusFor(0))
}

func TestScore_Empty(t *testing.T) {
	assert.Equal(t, 0, Score(nil))
	assert.Equal(t, 0, Score([]types.Finding{}))
}

func TestStatusFor_Thresholds(t *testing.T) {
	tests := []struct {
		score  int
		status string
	}{
		{0, types.StatusSafe},
		{1, types.StatusSuspicious},
		{10, types.StatusSuspicious},
		{49, types.StatusSuspicious},
		{50, types.StatusWarning},
		{99, types.StatusWarning},
		{100, types.StatusCritical},
		{250, types.StatusCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.score), "score %d", tt.score)
	}
}

func TestWeight_PerSeverity(t *testing.T) {
	assert.Equal(t, 100, Weight(types.SeverityCritical))
	assert.Equal(t, 50, Weight(types.SeverityHigh))
	assert.Equal(t, 25, Weight(types.SeverityMedium))
	assert.Equal(t, 10, Weight(types.SeverityLow))
	assert.Equal(t, 0, Weight(types.SeverityInfo))
}
