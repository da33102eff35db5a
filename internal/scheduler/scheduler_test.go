package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/database"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/internal/scope"
	"github.com/apexsec/apex/pkg/types"
)

type stubScanner struct {
	result *types.ScanResult
}

func (s *stubScanner) Scan(ctx context.Context, url, method string) *types.ScanResult {
	return s.result
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []int64
}

func (n *recordingNotifier) ScanUpdate(assetID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, assetID)
}

func (n *recordingNotifier) ImportProgress(result *types.ImportResult) {}

func newTestMonitor(t *testing.T, result *types.ScanResult) (*Monitor, core.AssetStore, *recordingNotifier) {
	t.Helper()

	log, err := logger.New(config.LoggerConfig{
		Level:       "error",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)

	store, err := database.NewStore(config.DatabaseConfig{
		Driver:         "sqlite3",
		DSN:            ":memory:",
		MaxConnections: 1,
		MaxIdleConns:   1,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	monitor := NewMonitor(config.MonitorConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
		StaleAfter:   5 * time.Minute,
		MaxDepth:     3,
	}, store, &stubScanner{result: result}, scope.NewGuard(), notifier, log)

	return monitor, store, notifier
}

func safeResult(discovered ...string) *types.ScanResult {
	return &types.ScanResult{
		Status:         types.StatusSafe,
		StatusCode:     200,
		ResponseBody:   "ok",
		DiscoveredURLs: discovered,
	}
}

func mustAdd(t *testing.T, store core.AssetStore, p core.AddAssetParams) types.Asset {
	t.Helper()
	id, err := store.AddAsset(context.Background(), p)
	require.NoError(t, err)
	asset, err := store.GetAsset(context.Background(), id)
	require.NoError(t, err)
	return *asset
}

func TestScanAsset_AdmitsInScopeDiscoveries(t *testing.T) {
	monitor, store, notifier := newTestMonitor(t,
		safeResult("https://acme.com/api/users", "https://other.example/out"))
	ctx := context.Background()

	root := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser, Recursive: true,
	})

	monitor.ScanAsset(ctx, root)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	var child *types.Asset
	for i := range assets {
		if assets[i].URL == "https://acme.com/api/users" {
			child = &assets[i]
		}
	}
	require.NotNil(t, child, "in-scope discovery should have been admitted")
	assert.Equal(t, types.SourceRecursive, child.Source)
	assert.Equal(t, root.Depth+1, child.Depth)
	assert.True(t, child.Recursive)

	assert.Equal(t, []int64{root.ID}, notifier.updates)
}

func TestScanAsset_MaxDepthLeafIsAdmittedButInert(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://acme.com/deep"))
	ctx := context.Background()

	// A depth-2 parent under MaxDepth=3 produces depth-3 leaves that are
	// stored but never expanded further.
	mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser,
	})
	parent := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com/branch", Method: "GET",
		Source: types.SourceRecursive, Recursive: true, Depth: 2,
	})

	monitor.ScanAsset(ctx, parent)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)

	var leaf *types.Asset
	for i := range assets {
		if assets[i].URL == "https://acme.com/deep" {
			leaf = &assets[i]
		}
	}
	require.NotNil(t, leaf)
	assert.Equal(t, 3, leaf.Depth)
	assert.False(t, leaf.Recursive)
}

func TestScanAsset_NonRecursiveAssetNeverExpands(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://acme.com/found"))
	ctx := context.Background()

	root := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser, Recursive: false,
	})

	monitor.ScanAsset(ctx, root)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestScanAsset_GlobalToggleOffStopsUserRoots(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://acme.com/found"))
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, SettingRecursiveDiscovery, "false"))

	root := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser, Recursive: true,
	})

	monitor.ScanAsset(ctx, root)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestScanAsset_DiscoveredAssetsKeepRecursingWhenToggleOff(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://acme.com/further"))
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, SettingRecursiveDiscovery, "false"))

	mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser,
	})
	discovered := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com/mid", Method: "GET",
		Source: types.SourceRecursive, Recursive: true, Depth: 1,
	})

	monitor.ScanAsset(ctx, discovered)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 3, "an in-progress crawl branch completes despite the toggle")
}

func TestScanAsset_WorkbenchNeverRecurses(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://acme.com/found"))
	ctx := context.Background()

	bench := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com/wb", Method: "GET",
		Source: types.SourceWorkbench, Recursive: true, IsWorkbench: true,
	})

	monitor.ScanAsset(ctx, bench)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}

func TestScanAsset_DeniedHostsAreRejectedEvenIfAuthorized(t *testing.T) {
	monitor, store, _ := newTestMonitor(t, safeResult("https://github.com/acme/repo"))
	ctx := context.Background()

	// github.com on the deny-list wins even when an operator added it as a root.
	mustAdd(t, store, core.AddAssetParams{
		URL: "https://github.com", Method: "GET", Source: types.SourceUser,
	})
	root := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com", Method: "GET", Source: types.SourceUser, Recursive: true,
	})

	monitor.ScanAsset(ctx, root)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestScanAsset_PersistsResultAndNotifies(t *testing.T) {
	monitor, store, notifier := newTestMonitor(t, &types.ScanResult{
		Status:     types.StatusWarning,
		StatusCode: 200,
		RiskScore:  50,
		Findings:   []types.Finding{{Short: "Token", Severity: types.SeverityHigh}},
	})
	ctx := context.Background()

	root := mustAdd(t, store, core.AddAssetParams{
		URL: "https://acme.com/api", Method: "GET", Source: types.SourceUser,
	})

	monitor.ScanAsset(ctx, root)

	asset, err := store.GetAsset(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWarning, asset.Status)
	assert.Equal(t, 50, asset.RiskScore)
	assert.Equal(t, []int64{root.ID}, notifier.updates)
}
