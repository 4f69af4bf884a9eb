// Package server exposes the sync platform over HTTP: webhook ingress for
// the connected vendors and an admin API for configs, manual syncs, logs,
// queue and conflict management. Handlers are thin; all sync semantics
// live in the engine.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/engine"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/store"
)

// Deps carries the server collaborators.
type Deps struct {
	Engine    *engine.Engine
	Configs   store.ConfigStore
	Mappings  store.MappingStore
	Logs      store.LogStore
	Webhooks  store.WebhookStore
	Conflicts store.ConflictStore
	Records   records.Directory
	Logger    *logrus.Logger
}

// Server is the HTTP surface.
type Server struct {
	deps   Deps
	logger *logrus.Logger
	router *gin.Engine
}

// New builds the server and its route table.
func New(deps Deps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := compileConfigSchema(); err != nil {
		return nil, err
	}

	s := &Server{deps: deps, logger: logger}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the gin handler for mounting or serving.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	wh := r.Group("/webhooks")
	{
		wh.POST("/rdstation", s.rdstationWebhook)
		wh.POST("/confirm8", s.confirm8Webhook)
		wh.POST("/:integration/:companyId", s.genericWebhook)
		wh.GET("/logs", s.webhookLogs)
	}

	sync := r.Group("/sync")
	{
		sync.PUT("/config", s.saveConfig)
		sync.GET("/config", s.listConfigs)
		sync.GET("/config/:integration", s.getConfig)
		sync.DELETE("/config/:integration", s.deleteConfig)
		sync.POST("/manual", s.manualSync)
		sync.GET("/logs", s.syncLogs)
		sync.GET("/stats", s.syncStats)
		sync.GET("/mappings", s.listMappings)
		sync.GET("/queue", s.listQueue)
		sync.POST("/queue/:id/retry", s.retryJob)
		sync.DELETE("/queue/:id", s.cancelJob)
		sync.GET("/conflicts", s.listConflicts)
		sync.POST("/conflicts/:id/resolve", s.resolveConflict)
		sync.GET("/plugins", s.listPlugins)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"plugins": s.deps.Engine.Registry().List(),
	})
}

// --- Webhook ingress ---

// rdstationWebhook identifies the tenant from the X-Company-ID header set
// at webhook registration time, falling back to a companyId query param.
func (s *Server) rdstationWebhook(c *gin.Context) {
	companyID := c.GetHeader("X-Company-ID")
	if companyID == "" {
		companyID = c.Query("companyId")
	}
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing company identification"})
		return
	}
	s.dispatchWebhook(c, companyID, "rdstation")
}

// confirm8Webhook resolves the tenant by matching the sending account's
// domain against the stored apiDomain config value.
func (s *Server) confirm8Webhook(c *gin.Context) {
	var payload core.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	domain := accountDomain(payload.Data)
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload carries no account domain"})
		return
	}
	config, err := s.deps.Configs.FindByConfigValue(c.Request.Context(), "confirm8", "apiDomain", domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if config == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tenant configured for domain " + domain})
		return
	}

	result := s.deps.Engine.HandleWebhook(c.Request.Context(), config.CompanyID, "confirm8", &payload)
	c.JSON(webhookStatusCode(result), result)
}

func (s *Server) genericWebhook(c *gin.Context) {
	s.dispatchWebhook(c, c.Param("companyId"), c.Param("integration"))
}

func (s *Server) dispatchWebhook(c *gin.Context, companyID, integration string) {
	var payload core.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}
	result := s.deps.Engine.HandleWebhook(c.Request.Context(), companyID, integration, &payload)
	c.JSON(webhookStatusCode(result), result)
}

// webhookStatusCode always acknowledges persisted webhooks; only signature
// failures push back so the vendor stops redelivering tampered events.
func webhookStatusCode(result *core.SyncResult) int {
	if result.Error != nil && result.Error.Code == core.CodeInvalidSignature {
		return http.StatusUnauthorized
	}
	return http.StatusOK
}

func (s *Server) webhookLogs(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	logs, err := s.deps.Webhooks.List(c.Request.Context(), companyID, c.Query("integration"), intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": logs})
}

// --- Integration config ---

func (s *Server) saveConfig(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := validateConfigPayload(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var config core.IntegrationConfig
	if err := jsonUnmarshal(body, &config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config payload"})
		return
	}

	ctx := c.Request.Context()
	if config.Enabled {
		// Enabling validates required keys and initializes the instance up
		// front so a broken config fails here, not on the first sync.
		if _, err := s.deps.Engine.Registry().Enable(ctx, config.Integration, &config); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		s.deps.Engine.Registry().Disable(config.CompanyID, config.Integration)
	}

	if err := s.deps.Configs.Save(ctx, &config); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "integration": config.Integration})
}

func (s *Server) listConfigs(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	configs, err := s.deps.Configs.ListByCompany(c.Request.Context(), companyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (s *Server) getConfig(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	config, err := s.deps.Configs.Get(c.Request.Context(), companyID, c.Param("integration"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if config == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}
	c.JSON(http.StatusOK, config)
}

func (s *Server) deleteConfig(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	integration := c.Param("integration")
	if err := s.deps.Configs.Delete(c.Request.Context(), companyID, integration); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.deps.Engine.Registry().Disable(companyID, integration)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- Manual sync ---

type manualSyncRequest struct {
	CompanyID   string           `json:"companyId"`
	Integration string           `json:"integration"`
	Entity      core.EntityType  `json:"entity"`
	Direction   string           `json:"direction"`
	Priority    int              `json:"priority"`
	DryRun      bool             `json:"dryRun"`
	Data        map[string]any   `json:"data"`
	Records     []map[string]any `json:"records"`
}

// manualSync runs dry runs synchronously so the operator sees the outcome;
// real syncs go through the queue.
func (s *Server) manualSync(c *gin.Context) {
	var req manualSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CompanyID == "" || req.Integration == "" || req.Entity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId, integration and entity are required"})
		return
	}
	if !req.Entity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity " + string(req.Entity)})
		return
	}
	payloads := req.Records
	if len(payloads) == 0 && req.Data != nil {
		payloads = []map[string]any{req.Data}
	}
	if len(payloads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no records to sync"})
		return
	}

	ctx := c.Request.Context()
	if req.DryRun {
		results := make([]*core.SyncResult, 0, len(payloads))
		for _, payload := range payloads {
			var result *core.SyncResult
			if req.Direction == string(core.DirectionFromOmni) {
				result = s.deps.Engine.SyncFromOmni(ctx, req.CompanyID, req.Integration, req.Entity, payload, engine.Options{DryRun: true})
			} else {
				result = s.deps.Engine.SyncToOmni(ctx, req.CompanyID, req.Integration, req.Entity, payload, engine.Options{DryRun: true})
			}
			results = append(results, result)
		}
		c.JSON(http.StatusOK, gin.H{"dryRun": true, "results": results})
		return
	}

	jobs := make([]*queue.Job, 0, len(payloads))
	for _, payload := range payloads {
		jobs = append(jobs, &queue.Job{
			CompanyID:   req.CompanyID,
			Integration: req.Integration,
			Entity:      req.Entity,
			Action:      "update",
			Direction:   req.Direction,
			Payload:     payload,
			Priority:    req.Priority,
		})
	}
	ids, err := s.deps.Engine.Queue().EnqueueBatch(ctx, jobs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": len(ids), "jobIds": ids})
}

// --- Logs, stats, mappings ---

func (s *Server) syncLogs(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	filters := store.LogFilters{
		CompanyID:   companyID,
		Integration: c.Query("integration"),
		Entity:      core.EntityType(c.Query("entity")),
		Status:      core.SyncStatus(c.Query("status")),
		Limit:       intQuery(c, "limit", 100),
	}
	if v := c.Query("startDate"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartDate = ts
		}
	}
	if v := c.Query("endDate"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filters.EndDate = ts
		}
	}
	logs, err := s.deps.Logs.List(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) syncStats(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	logStats, queueStats, err := s.deps.Engine.Stats(c.Request.Context(), companyID, c.Query("integration"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync": logStats, "queue": queueStats})
}

func (s *Server) listMappings(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	mappings, err := s.deps.Mappings.ListByCompany(c.Request.Context(), companyID,
		core.EntityType(c.Query("entity")), intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

// --- Queue management ---

func (s *Server) listQueue(c *gin.Context) {
	integration := c.Query("integration")
	if integration == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "integration is required"})
		return
	}
	jobs, err := s.deps.Engine.Queue().JobsByIntegration(c.Request.Context(), integration,
		queue.JobStatus(c.Query("status")), intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) retryJob(c *gin.Context) {
	ok, err := s.deps.Engine.Queue().RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not in failed state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": true})
}

func (s *Server) cancelJob(c *gin.Context) {
	ok, err := s.deps.Engine.Queue().Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// --- Conflicts ---

func (s *Server) listConflicts(c *gin.Context) {
	companyID := c.Query("companyId")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId is required"})
		return
	}
	conflicts, err := s.deps.Conflicts.ListUnresolved(c.Request.Context(), companyID, intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

type resolveConflictRequest struct {
	CompanyID    string         `json:"companyId"`
	ResolvedBy   string         `json:"resolvedBy"`
	ResolvedData map[string]any `json:"resolvedData"`
}

// resolveConflict applies the operator's chosen data to the disputed record
// (when provided) and closes the conflict.
func (s *Server) resolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CompanyID == "" || req.ResolvedBy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companyId and resolvedBy are required"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	conflict, err := s.deps.Conflicts.Get(ctx, req.CompanyID, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conflict == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
		return
	}
	if conflict.Resolved {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict already resolved"})
		return
	}

	if req.ResolvedData != nil {
		_, err := s.deps.Records.Upsert(ctx, &records.Record{
			ID:        conflict.EntityID,
			CompanyID: req.CompanyID,
			Entity:    string(conflict.Entity),
			Data:      req.ResolvedData,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.deps.Conflicts.Resolve(ctx, req.CompanyID, id, req.ResolvedBy); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// --- Plugins ---

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plugins": s.deps.Engine.Registry().Describe()})
}

// --- helpers ---

func accountDomain(data map[string]any) string {
	account, _ := data["account"].(map[string]any)
	if account == nil {
		return ""
	}
	domain, _ := account["domain"].(string)
	return domain
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
