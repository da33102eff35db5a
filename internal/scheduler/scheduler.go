package scheduler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/internal/scope"
	"github.com/apexsec/apex/pkg/types"
)

// SettingRecursiveDiscovery is the settings key for the global recursive
// discovery toggle. Absent means enabled.
const SettingRecursiveDiscovery = "recursive_discovery_enabled"

// Monitor drives the continuous verification loop: every tick it pulls a
// batch of stale or pending assets, probes each in its own goroutine, and
// feeds in-scope discoveries back into the inventory. One instance runs per
// process; concurrency control lives in the shared rate gate and the store,
// not here.
type Monitor struct {
	cfg      config.MonitorConfig
	store    core.AssetStore
	scans    core.ScanService
	guard    *scope.Guard
	notifier core.Notifier
	logger   *logger.Logger

	wg sync.WaitGroup
}

func NewMonitor(cfg config.MonitorConfig, store core.AssetStore, scans core.ScanService,
	guard *scope.Guard, notifier core.Notifier, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		scans:    scans,
		guard:    guard,
		notifier: notifier,
		logger:   log.WithComponent("scheduler"),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight probes to
// finish before returning.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Infow("Monitor started",
		"poll_interval", m.cfg.PollInterval,
		"batch_size", m.cfg.BatchSize,
		"stale_after", m.cfg.StaleAfter,
	)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Infow("Monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	recursiveEnabled := m.recursiveDiscoveryEnabled(ctx)

	staleMinutes := int(m.cfg.StaleAfter / time.Minute)
	assets, err := m.store.GetStaleAssets(ctx, m.cfg.BatchSize, staleMinutes)
	if err != nil {
		m.logger.LogError(ctx, err, "get_stale_assets")
		return
	}
	if len(assets) == 0 {
		return
	}

	m.logger.Debugw("Dispatching batch", "count", len(assets), "recursive_enabled", recursiveEnabled)
	for _, asset := range assets {
		asset := asset
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.scanAsset(ctx, asset, recursiveEnabled)
		}()
	}
}

func (m *Monitor) recursiveDiscoveryEnabled(ctx context.Context) bool {
	value, ok, err := m.store.GetSetting(ctx, SettingRecursiveDiscovery)
	if err != nil {
		m.logger.LogError(ctx, err, "get_setting", "key", SettingRecursiveDiscovery)
		return true
	}
	if !ok {
		return true
	}
	return value != "false"
}

// ScanAsset probes one asset, persists the result, feeds discoveries back,
// and notifies subscribers. Exposed for the manual-rescan path, which uses
// the exact same pipeline as the scheduled one.
func (m *Monitor) ScanAsset(ctx context.Context, asset types.Asset) {
	m.scanAsset(ctx, asset, m.recursiveDiscoveryEnabled(ctx))
}

func (m *Monitor) scanAsset(ctx context.Context, asset types.Asset, recursiveEnabled bool) {
	result := m.scans.Scan(ctx, asset.URL, asset.Method)

	if err := m.store.UpdateScanResult(ctx, asset.ID, result); err != nil {
		m.logger.LogError(ctx, err, "update_scan_result", "asset_id", asset.ID)
		return
	}

	if m.shouldRecurse(asset, recursiveEnabled) && len(result.DiscoveredURLs) > 0 {
		m.admitDiscoveries(ctx, asset, result.DiscoveredURLs)
	}

	if m.notifier != nil {
		m.notifier.ScanUpdate(asset.ID)
	}
}

func (m *Monitor) shouldRecurse(asset types.Asset, recursiveEnabled bool) bool {
	if !asset.Recursive || asset.Source == types.SourceWorkbench {
		return false
	}
	// Assets that were themselves discovered recursively keep recursing even
	// when the global toggle is off, so an in-progress crawl tree completes
	// instead of stranding half-explored branches.
	return recursiveEnabled || asset.Source == types.SourceRecursive
}

func (m *Monitor) admitDiscoveries(ctx context.Context, parent types.Asset, discovered []string) {
	domains, err := m.store.AuthorizedDomains(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "authorized_domains")
		return
	}

	childDepth := parent.Depth + 1
	childRecursive := childDepth < m.cfg.MaxDepth

	admitted := 0
	for _, raw := range discovered {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			continue
		}
		if !m.guard.IsInScope(parsed.Hostname(), domains) {
			continue
		}

		if _, err := m.store.AddAsset(ctx, core.AddAssetParams{
			URL:       raw,
			Method:    "GET",
			Source:    types.SourceRecursive,
			Recursive: childRecursive,
			Depth:     childDepth,
		}); err != nil {
			m.logger.LogError(ctx, err, "add_discovered_asset", "url", raw)
			continue
		}
		admitted++
	}

	if admitted > 0 {
		m.logger.Debugw("Admitted discoveries",
			"parent_id", parent.ID,
			"admitted", admitted,
			"depth", childDepth,
			"child_recursive", childRecursive,
		)
	}
}
