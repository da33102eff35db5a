package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/database"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/pkg/types"
)

func newTestImporter(t *testing.T) (*Importer, core.AssetStore) {
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

	return New(store, nil, 10*time.Minute, log), store
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://acme.com/api":      "https://acme.com/api",
		"acme.com":                  "https://acme.com",
		"  ACME.com/path  ":         "https://acme.com/path",
		`"https://acme.com/x",`:     "https://acme.com/x",
		"http://acme.com:8080/api":  "http://acme.com:8080/api",
		"https://acme.com/a#frag":   "https://acme.com/a",
		"":                          "",
		"not a url":                 "",
		"localhost":                 "",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeURL(input), "input: %q", input)
	}
}

func TestAnalyzeContent(t *testing.T) {
	content := `Burp export 2026-08-29
https://acme.com/api/users
https://acme.com/api/users
api.acme.com
some prose mentioning https://acme.com/login inline
not-a-target`

	staged := AnalyzeContent(content)

	urls := make([]string, 0, len(staged))
	for _, s := range staged {
		urls = append(urls, s.URL)
		assert.Equal(t, "GET", s.Method)
	}
	assert.Equal(t, []string{
		"https://acme.com/api/users",
		"https://acme.com/login",
		"https://api.acme.com",
	}, urls)
}

func TestImport_CountsSuccessFailDuplicate(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	_, err := store.AddAsset(ctx, core.AddAssetParams{
		URL: "https://acme.com/existing", Method: "GET", Source: types.SourceUser,
	})
	require.NoError(t, err)

	result := imp.Import(ctx, []types.StagedAsset{
		{URL: "https://acme.com/new"},
		{URL: "https://acme.com/existing"},
		{URL: "   "},
	}, types.ImportOptions{SkipDuplicates: true})

	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.IDs, 1)
	assert.NotEmpty(t, result.ImportID)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unparseable")
}

func TestImport_WorkbenchDestination(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	result := imp.Import(ctx, []types.StagedAsset{
		{URL: "https://acme.com/wb"},
	}, types.ImportOptions{Destination: DestinationWorkbench})

	require.Equal(t, 1, result.Successful)
	asset, err := store.GetAsset(ctx, result.IDs[0])
	require.NoError(t, err)
	assert.True(t, asset.IsWorkbench)
	assert.Equal(t, types.SourceWorkbench, asset.Source)
}

func TestImport_SkipsRecentlyScanned(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	id, err := store.AddAsset(ctx, core.AddAssetParams{
		URL: "https://acme.com/fresh", Method: "GET", Source: types.SourceUser,
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateScanResult(ctx, id, &types.ScanResult{
		Status: types.StatusSafe, StatusCode: 200, ResponseBody: "ok",
	}))

	// SkipDuplicates off, but the row was verified minutes ago.
	result := imp.Import(ctx, []types.StagedAsset{
		{URL: "https://acme.com/fresh"},
	}, types.ImportOptions{})

	assert.Equal(t, 0, result.Successful)
	assert.Equal(t, 1, result.Duplicates)
}

func TestImport_ReimportWithoutSkipRequeues(t *testing.T) {
	imp, store := newTestImporter(t)
	ctx := context.Background()

	first := imp.Import(ctx, []types.StagedAsset{{URL: "https://acme.com/a"}}, types.ImportOptions{})
	require.Equal(t, 1, first.Successful)

	// Never scanned, so the recent-scan skip doesn't apply; the idempotent
	// insert lands on the same row.
	second := imp.Import(ctx, []types.StagedAsset{{URL: "https://acme.com/a"}}, types.ImportOptions{})
	assert.Equal(t, 1, second.Successful)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}
