package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/database"
	"github.com/apexsec/apex/internal/importer"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/internal/notify"
	"github.com/apexsec/apex/internal/ratelimit"
	"github.com/apexsec/apex/internal/scheduler"
	"github.com/apexsec/apex/internal/scope"
	"github.com/apexsec/apex/pkg/types"
)

type h = map[string]interface{}

type noopScanner struct{}

func (noopScanner) Scan(ctx context.Context, url, method string) *types.ScanResult {
	return &types.ScanResult{Status: types.StatusSafe, StatusCode: 200, ResponseBody: "ok"}
}

func newTestServer(t *testing.T) (*Server, core.AssetStore, *ratelimit.Gate) {
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

	hub := notify.NewHub(log)
	gate := ratelimit.NewGate(ratelimit.DefaultIntervalMs)
	imp := importer.New(store, hub, 10*time.Minute, log)
	monitor := scheduler.NewMonitor(config.MonitorConfig{
		PollInterval: time.Minute,
		BatchSize:    10,
		StaleAfter:   5 * time.Minute,
		MaxDepth:     3,
	}, store, noopScanner{}, scope.NewGuard(), hub, log)

	return NewServer(config.APIConfig{Addr: ":0"}, store, imp, monitor, gate, hub, log), store, gate
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestAddAndListAssets(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/assets", h{"url": "acme.com/api", "recursive": true})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var assets []types.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assets))
	require.Len(t, assets, 1)
	assert.Equal(t, "https://acme.com/api", assets[0].URL)
	assert.Equal(t, types.StatusPending, assets[0].Status)
	assert.True(t, assets[0].Recursive)
}

func TestAddAsset_RejectsGarbage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/assets", h{"url": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/assets", h{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAsset_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/assets/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/assets/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFalsePositiveEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	id, err := store.AddAsset(ctx, core.AddAssetParams{
		URL: "https://acme.com/api", Method: "GET", Source: types.SourceUser,
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateScanResult(ctx, id, &types.ScanResult{
		Status: types.StatusCritical, StatusCode: 200, RiskScore: 100,
		Findings: []types.Finding{{Short: "AWSKey", Severity: types.SeverityCritical, Evidence: "AKIA"}},
	}))

	w := doJSON(t, srv, http.MethodPost, "/api/assets/1/false-positive",
		h{"short": "AWSKey", "evidence": "AKIA", "is_fp": true, "reason": "sample data"})
	require.Equal(t, http.StatusNoContent, w.Code)

	asset, err := store.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, asset.RiskScore)

	// Unknown finding is a 404, not a silent success.
	w = doJSON(t, srv, http.MethodPost, "/api/assets/1/false-positive",
		h{"short": "Nope", "evidence": "x", "is_fp": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsRoundTripAndRateGate(t *testing.T) {
	srv, _, gate := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/settings/recursive_discovery_enabled", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/api/settings/recursive_discovery_enabled", h{"value": "false"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/settings/recursive_discovery_enabled", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The rate limit setting also retunes the live gate.
	w = doJSON(t, srv, http.MethodPut, "/api/settings/rate_limit_ms", h{"value": "250"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 250*time.Millisecond, gate.Interval())

	w = doJSON(t, srv, http.MethodPut, "/api/settings/rate_limit_ms", h{"value": "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportEndpoints(t *testing.T) {
	srv, store, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/import/analyze",
		h{"content": "https://acme.com/a\nhttps://acme.com/b\n"})
	require.Equal(t, http.StatusOK, w.Code)

	var staged []types.StagedAsset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &staged))
	require.Len(t, staged, 2)

	w = doJSON(t, srv, http.MethodPost, "/api/import", h{
		"assets":  staged,
		"options": h{"skip_duplicates": true},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result types.ImportResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Successful)

	assets, err := store.GetAssets(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestDeleteAndClear(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	id, err := store.AddAsset(ctx, core.AddAssetParams{
		URL: "https://acme.com/a", Method: "GET", Source: types.SourceUser,
	})
	require.NoError(t, err)
	_, err = store.AddAsset(ctx, core.AddAssetParams{
		URL: "https://acme.com/b", Method: "GET", Source: types.SourceUser,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodDelete, "/api/assets/"+itoa(id), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/assets", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assets, err := store.GetAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestAddAsset_RelaySourceLabels(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	// A capture relay posts with its own source label.
	w := doJSON(t, srv, http.MethodPost, "/api/assets",
		h{"url": "https://acme.com/seen-in-traffic", "source": types.SourceProxy})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	asset, err := store.GetAsset(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SourceProxy, asset.Source)

	// Relay-added hosts authorize scope like any other explicit addition.
	domains, err := store.AuthorizedDomains(ctx)
	require.NoError(t, err)
	assert.Contains(t, domains, "acme.com")

	// Recursive is the scheduler's label, not a feeder's.
	w = doJSON(t, srv, http.MethodPost, "/api/assets",
		h{"url": "https://acme.com/x", "source": types.SourceRecursive})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/assets",
		h{"url": "https://acme.com/y", "source": "Gopher"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
