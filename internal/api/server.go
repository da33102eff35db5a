package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/core"
	"github.com/apexsec/apex/internal/database"
	"github.com/apexsec/apex/internal/importer"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/internal/notify"
	"github.com/apexsec/apex/internal/scheduler"
	"github.com/apexsec/apex/pkg/types"
)

// SettingRateLimitMs is the settings key mirrored into the live rate gate.
const SettingRateLimitMs = "rate_limit_ms"

// Server is the local HTTP surface for the UI and scripting: inventory CRUD,
// bulk import, triage actions, settings, and the websocket event stream.
type Server struct {
	cfg      config.APIConfig
	store    core.AssetStore
	importer *importer.Importer
	monitor  *scheduler.Monitor
	gate     core.RateLimiter
	hub      *notify.Hub
	logger   *logger.Logger
	router   *gin.Engine
}

func NewServer(cfg config.APIConfig, store core.AssetStore, imp *importer.Importer,
	monitor *scheduler.Monitor, gate core.RateLimiter, hub *notify.Hub, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		store:    store,
		importer: imp,
		monitor:  monitor,
		gate:     gate,
		hub:      hub,
		logger:   log.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("API listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": s.hub.ClientCount(),
		})
	})

	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	assets := router.Group("/api/assets")
	{
		assets.GET("", s.listAssets)
		assets.POST("", s.addAsset)
		assets.DELETE("", s.clearAssets)
		assets.GET("/:id", s.getAsset)
		assets.DELETE("/:id", s.deleteAsset)
		assets.GET("/:id/history", s.getHistory)
		assets.POST("/:id/rescan", s.rescanAsset)
		assets.POST("/:id/false-positive", s.toggleFalsePositive)
		assets.POST("/:id/triage", s.updateTriage)
		assets.POST("/:id/source", s.updateSource)
		assets.POST("/:id/workbench", s.updateWorkbench)
	}

	imports := router.Group("/api/import")
	{
		imports.POST("/analyze", s.analyzeImport)
		imports.POST("", s.runImport)
	}

	settings := router.Group("/api/settings")
	{
		settings.GET("/:key", s.getSetting)
		settings.PUT("/:key", s.putSetting)
	}

	maintenance := router.Group("/api/maintenance")
	{
		maintenance.POST("/purge", s.purgeOutOfScope)
		maintenance.POST("/sanitize", s.sanitizeURLs)
	}

	return router
}

func (s *Server) assetID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return 0, false
	}
	return id, true
}

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.store.GetAssets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if assets == nil {
		assets = []types.Asset{}
	}
	c.JSON(http.StatusOK, assets)
}

// feederSources are the source labels a feeder may claim on insertion.
/// Recursive is reserved for the scheduler's own discoveries: letting a
// feeder use it would silently exclude the host from the authorized-domain
// projection.
var feederSources = map[string]struct{}{
	types.SourceUser:      {},
	types.SourceImport:    {},
	types.SourceProxy:     {},
	types.SourceWorkbench: {},
	types.SourceDiscovery: {},
}

func (s *Server) addAsset(c *gin.Context) {
	var req struct {
		URL       string `json:"url" binding:"required"`
		Method    string `json:"method"`
		Source    string `json:"source"`
		Recursive bool   `json:"recursive"`
		Workbench bool   `json:"workbench"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	normalized := importer.NormalizeURL(req.URL)
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unparseable url"})
		return
	}

	source := types.SourceUser
	if req.Workbench {
		source = types.SourceWorkbench
	}
	if req.Source != "" {
		if _, ok := feederSources[req.Source]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source: " + req.Source})
			return
		}
		source = req.Source
	}

	id, err := s.store.AddAsset(c.Request.Context(), core.AddAssetParams{
		URL:         normalized,
		Method:      req.Method,
		Source:      source,
		Recursive:   req.Recursive,
		IsWorkbench: req.Workbench,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) getAsset(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	asset, err := s.store.GetAsset(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) deleteAsset(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteAsset(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearAssets(c *gin.Context) {
	if err := s.store.ClearAssets(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getHistory(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	history, err := s.store.GetAssetHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []types.ScanHistoryEntry{}
	}
	c.JSON(http.StatusOK, history)
}

// rescanAsset queues an immediate probe through the same pipeline the
// scheduler uses, so recursion and notification behave identically.
func (s *Server) rescanAsset(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	asset, err := s.store.GetAsset(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	go s.monitor.ScanAsset(context.Background(), *asset)
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) toggleFalsePositive(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	var req struct {
		Short    string `json:"short" binding:"required"`
		Evidence string `json:"evidence"`
		IsFP     bool   `json:"is_fp"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.store.UpdateFindingFalsePositive(c.Request.Context(), id, req.Short, req.Evidence, req.IsFP, req.Reason)
	if errors.Is(err, database.ErrFindingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.hub.ScanUpdate(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) updateTriage(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	var req struct {
		TriageStatus string `json:"triage_status" binding:"required"`
		Notes        string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateTriage(c.Request.Context(), id, req.TriageStatus, req.Notes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateSource(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	var req struct {
		Source string `json:"source" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateSource(c.Request.Context(), id, req.Source); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) updateWorkbench(c *gin.Context) {
	id, ok := s.assetID(c)
	if !ok {
		return
	}
	var req struct {
		IsWorkbench bool `json:"is_workbench"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateWorkbench(c.Request.Context(), id, req.IsWorkbench); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) analyzeImport(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	staged := importer.AnalyzeContent(req.Content)
	if staged == nil {
		staged = []types.StagedAsset{}
	}
	c.JSON(http.StatusOK, staged)
}

func (s *Server) runImport(c *gin.Context) {
	var req struct {
		Assets  []types.StagedAsset `json:"assets" binding:"required"`
		Options types.ImportOptions `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := s.importer.Import(c.Request.Context(), req.Assets, req.Options)
	c.JSON(http.StatusOK, result)
}

func (s *Server) getSetting(c *gin.Context) {
	key := c.Param("key")
	value, ok, err := s.store.GetSetting(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "setting not set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// putSetting persists a setting and applies live side effects: the rate
// limit key also retunes the shared gate without a restart.
func (s *Server) putSetting(c *gin.Context) {
	key := c.Param("key")
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if key == SettingRateLimitMs {
		ms, err := strconv.Atoi(req.Value)
		if err != nil || ms <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate_limit_ms must be a positive integer"})
			return
		}
		s.gate.SetInterval(ms)
	}

	if err := s.store.SetSetting(c.Request.Context(), key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}

func (s *Server) purgeOutOfScope(c *gin.Context) {
	purged, err := s.store.PurgeOutOfScopeRecursive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func (s *Server) sanitizeURLs(c *gin.Context) {
	fixed, err := s.store.SanitizeURLs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fixed": fixed})
}
