package importer

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/pkg/types"
)

// DestinationWorkbench routes imported rows into the workbench instead of
// the monitored inventory.
const DestinationWorkbench = "workbench"

const importConcurrency = 8

var (
	reAbsoluteURL = regexp.MustCompile(`https?://[^\s"'<>\\,;]+`)
	reBareDomain  = regexp.MustCompile(`(?m)^[a-zA-Z0-9][a-zA-Z0-9.\-]*\.[a-zA-Z]{2,}(?:/[^\s"'<>]*)?$`)
)

// Importer turns pasted text, export files, and tool output into inventory
// rows in bulk. Rows are inserted concurrently; the store's idempotent
// insert makes duplicate lines harmless.
type Importer struct {
	store          core.AssetStore
	notifier       core.Notifier
	recentScanSkip time.Duration
	logger         *logger.Logger
}

func New(store core.AssetStore, notifier core.Notifier, recentScanSkip time.Duration, log *logger.Logger) *Importer {
	return &Importer{
		store:          store,
		notifier:       notifier,
		recentScanSkip: recentScanSkip,
		logger:         log.WithComponent("importer"),
	}
}

// AnalyzeContent extracts candidate assets from free-form text: one per
// absolute URL or bare domain line. Results are deduplicated and sorted so
// a staging preview is stable across repeated pastes.
func AnalyzeContent(content string) []types.StagedAsset {
	seen := make(map[string]struct{})

	for _, m := range reAbsoluteURL.FindAllString(content, -1) {
		if u := NormalizeURL(m); u != "" {
			seen[u] = struct{}{}
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if reBareDomain.MatchString(line) {
			if u := NormalizeURL(line); u != "" {
				seen[u] = struct{}{}
			}
		}
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	staged := make([]types.StagedAsset, 0, len(urls))
	for _, u := range urls {
		staged = append(staged, types.StagedAsset{URL: u, Method: "GET"})
	}
	return staged
}

// NormalizeURL canonicalizes one pasted target: whitespace and wrapping
// punctuation trimmed, scheme defaulted to https, host lowercased. Returns
// "" when nothing resembling a URL remains.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, `"',;`)
	raw = strings.TrimRight(raw, `.)]}`)
	if raw == "" {
		return ""
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" || !strings.Contains(parsed.Hostname(), ".") {
		return ""
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String()
}

// Import inserts a staged batch. Each row lands as Pending and is picked up
// by the monitor on its next tick; the importer itself never probes.
func (i *Importer) Import(ctx context.Context, staged []types.StagedAsset, opts types.ImportOptions) *types.ImportResult {
	start := time.Now()
	result := &types.ImportResult{ImportID: uuid.NewString()}

	isWorkbench := opts.Destination == DestinationWorkbench
	source := types.SourceImport
	if isWorkbench {
		source = types.SourceWorkbench
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)

	for _, s := range staged {
		s := s
		g.Go(func() error {
			normalized := NormalizeURL(s.URL)
			method := s.Method
			if method == "" {
				method = "GET"
			}

			if normalized == "" {
				mu.Lock()
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("unparseable url: %q", s.URL))
				mu.Unlock()
				return nil
			}

			if opts.SkipDuplicates && i.store.AssetExists(gctx, normalized, method) {
				mu.Lock()
				result.Duplicates++
				mu.Unlock()
				return nil
			}
			// Recently verified rows are counted as duplicates rather than
			// re-queued, so a re-import of yesterday's export doesn't reset
			// the whole inventory to Pending.
			if i.recentScanSkip > 0 &&
				i.store.IsRecentlyScanned(gctx, normalized, method, int(i.recentScanSkip/time.Minute)) {
				mu.Lock()
				result.Duplicates++
				mu.Unlock()
				return nil
			}

			id, err := i.store.AddAsset(gctx, core.AddAssetParams{
				URL:         normalized,
				Method:      method,
				Source:      source,
				Recursive:   s.Recursive,
				IsWorkbench: isWorkbench,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", normalized, err))
				return nil
			}
			result.Successful++
			result.IDs = append(result.IDs, id)
			return nil
		})
	}
	g.Wait()

	durationMs := time.Since(start).Milliseconds()
	if err := i.store.RecordImport(ctx, result, "staged", durationMs); err != nil {
		i.logger.LogError(ctx, err, "record_import", "import_id", result.ImportID)
	}
	if i.notifier != nil {
		i.notifier.ImportProgress(result)
	}

	i.logger.Infow("Import completed",
		"import_id", result.ImportID,
		"successful", result.Successful,
		"failed", result.Failed,
		"duplicates", result.Duplicates,
		"duration_ms", durationMs,
	)
	return result
}
