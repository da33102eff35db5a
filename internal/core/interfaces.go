package core

import (
	"context"

	"github.com/apexsec/apex/pkg/types"
)

// DetectionEngine classifies one response into findings. Implementations are
// pure pattern checks: they never fail and never touch the network.
type DetectionEngine interface {
	Analyze(url, body string, statusCode int, method, headers string) []types.Finding
}

// RateLimiter is the single shared gate in front of every outbound probe.
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetInterval(intervalMs int)
}

// ScanService performs one probe end to end: gate, request, detect, score,
// extract follow-on candidates.
type ScanService interface {
	Scan(ctx context.Context, url, method string) *types.ScanResult
}

// Notifier fans scan and import events out to subscribers (UI, logging).
// Payloads are opaque beyond the asset id and counters.
type Notifier interface {
	ScanUpdate(assetID int64)
	ImportProgress(result *types.ImportResult)
}

// AddAssetParams carries one feeder insertion. Insertion is idempotent on
// (url, method); source and recursive upgrade on existing rows.
type AddAssetParams struct {
	URL         string
	Method      string
	Source      string
	Recursive   bool
	IsWorkbench bool
	Depth       int
}

// AssetStore is the durable record of the inventory: asset rows, the
// append-only scan history, settings, and import-operation bookkeeping.
type AssetStore interface {
	AddAsset(ctx context.Context, p AddAssetParams) (int64, error)
	GetAssets(ctx context.Context) ([]types.Asset, error)
	GetAsset(ctx context.Context, id int64) (*types.Asset, error)
	GetStaleAssets(ctx context.Context, limit int, staleMinutes int) ([]types.Asset, error)
	GetPendingAssets(ctx context.Context, limit int) ([]types.Asset, error)
	UpdateScanResult(ctx context.Context, id int64, result *types.ScanResult) error
	GetAssetHistory(ctx context.Context, assetID int64) ([]types.ScanHistoryEntry, error)
	AuthorizedDomains(ctx context.Context) (map[string]struct{}, error)
	AssetExists(ctx context.Context, url, method string) bool
	IsRecentlyScanned(ctx context.Context, url, method string, withinMinutes int) bool

	UpdateFindingFalsePositive(ctx context.Context, assetID int64, short, evidence string, isFP bool, reason string) error
	RecalculateRisk(ctx context.Context, assetID int64) error
	UpdateTriage(ctx context.Context, id int64, triageStatus, notes string) error
	UpdateSource(ctx context.Context, id int64, source string) error
	UpdateWorkbench(ctx context.Context, id int64, isWorkbench bool) error

	DeleteAsset(ctx context.Context, id int64) error
	ClearAssets(ctx context.Context) error
	PurgeOutOfScopeRecursive(ctx context.Context) (int, error)
	SanitizeURLs(ctx context.Context) (int, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	RecordImport(ctx context.Context, result *types.ImportResult, source string, durationMs int64) error

	Close() error
}
