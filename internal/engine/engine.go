// Package engine orchestrates the sync pipeline: configuration and plugin
// lookup, entity mapping via deduplication, conflict resolution, plugin
// execution, and durable logging of every attempt.
//
// Inbound flow (external system -> internal):
//
//	config enabled? -> plugin instance -> entity supported? -> map to
//	canonical shape -> deduplicate against existing records -> resolve
//	conflicts when the sides disagree -> plugin applies -> mapping + log
//
// Outbound flow mirrors it without deduplication; a successful create
// links the two ids. Checks run in a fixed order so callers always get
// the same error code for the same misconfiguration.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/conflict"
	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/dedup"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/store"
)

// Options toggle per-call behavior.
type Options struct {
	DryRun            bool
	SkipDeduplication bool
}

// Engine wires the sync components together.
type Engine struct {
	configs   store.ConfigStore
	mappings  store.MappingStore
	logs      store.LogStore
	webhooks  store.WebhookStore
	conflicts store.ConflictStore
	records   records.Directory
	registry  *plugin.Registry
	dedup     *dedup.Engine
	resolver  *conflict.Resolver
	queue     *queue.Queue
	logger    *logrus.Logger
}

// Deps carries everything an Engine needs.
type Deps struct {
	Configs   store.ConfigStore
	Mappings  store.MappingStore
	Logs      store.LogStore
	Webhooks  store.WebhookStore
	Conflicts store.ConflictStore
	Records   records.Directory
	Registry  *plugin.Registry
	Dedup     *dedup.Engine
	Resolver  *conflict.Resolver
	Queue     *queue.Queue
	Logger    *logrus.Logger
}

// New creates an engine from its dependencies.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		configs:   deps.Configs,
		mappings:  deps.Mappings,
		logs:      deps.Logs,
		webhooks:  deps.Webhooks,
		conflicts: deps.Conflicts,
		records:   deps.Records,
		registry:  deps.Registry,
		dedup:     deps.Dedup,
		resolver:  deps.Resolver,
		queue:     deps.Queue,
		logger:    logger,
	}
}

// Queue exposes the job queue for the HTTP surface and scheduler.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Registry exposes the plugin registry for the HTTP surface.
func (e *Engine) Registry() *plugin.Registry { return e.registry }

// SyncToOmni applies one external record to the internal system.
func (e *Engine) SyncToOmni(ctx context.Context, companyID, integration string, entity core.EntityType, externalData map[string]any, opts Options) *core.SyncResult {
	start := time.Now()

	config, inst, errResult := e.resolve(ctx, companyID, integration, entity)
	if errResult != nil {
		e.logAttempt(ctx, companyID, integration, entity, "create", string(core.DirectionToOmni),
			"", stringField(externalData, "id"), errResult, time.Since(start))
		return errResult
	}

	mapped, err := inst.MapToOmni(entity, externalData)
	if err != nil {
		result := core.FailureResult(core.Errorf(core.CodeSyncError, "mapping failed: %v", err))
		e.logAttempt(ctx, companyID, integration, entity, "create", string(core.DirectionToOmni),
			"", stringField(externalData, "id"), result, time.Since(start))
		return result
	}

	sc := &core.SyncContext{
		CompanyID:   companyID,
		Integration: integration,
		Config:      config,
		Direction:   core.DirectionToOmni,
		DryRun:      opts.DryRun,
	}

	if !opts.SkipDeduplication {
		match, err := e.findDuplicates(ctx, companyID, entity, mapped.Data)
		if err != nil {
			result := core.FailureResult(core.Errorf(core.CodeSyncError, "deduplication failed: %v", err))
			e.logAttempt(ctx, companyID, integration, entity, "create", string(core.DirectionToOmni),
				"", stringField(externalData, "id"), result, time.Since(start))
			return result
		}

		if match.Matched && match.CandidateID != "" {
			sc.InternalID = match.CandidateID

			if !opts.DryRun {
				err := e.mappings.Upsert(ctx, &store.EntityMapping{
					CompanyID:   companyID,
					Entity:      entity,
					InternalID:  match.CandidateID,
					ExternalID:  stringField(externalData, "id"),
					Integration: integration,
					MatchScore:  match.MatchScore,
					MatchMethod: match.MatchMethod,
				})
				if err != nil {
					e.logger.WithError(err).Warn("failed to persist entity mapping")
				}
			}

			if conflictResult := e.reconcile(ctx, sc, entity, match, mapped.Data, externalData, opts); conflictResult != nil {
				e.logAttempt(ctx, companyID, integration, entity, "update", string(core.DirectionToOmni),
					match.CandidateID, stringField(externalData, "id"), conflictResult, time.Since(start))
				return conflictResult
			}
		}
	}

	result, err := inst.SyncToOmni(ctx, entity, externalData, sc)
	if err != nil {
		result = core.FailureResult(toSyncError(err))
	}
	result.Duration = time.Since(start)

	action := "create"
	if sc.InternalID != "" {
		action = "update"
	}
	internalID := result.InternalID
	if internalID == "" {
		internalID = sc.InternalID
	}
	e.logAttempt(ctx, companyID, integration, entity, action, string(core.DirectionToOmni),
		internalID, stringField(externalData, "id"), result, result.Duration)
	return result
}

// SyncFromOmni pushes one internal record to the external system. A
// successful push that produced an external id links the two ids, unless
// the call was a dry run.
func (e *Engine) SyncFromOmni(ctx context.Context, companyID, integration string, entity core.EntityType, internalData map[string]any, opts Options) *core.SyncResult {
	start := time.Now()
	internalID := stringField(internalData, "id")

	config, inst, errResult := e.resolve(ctx, companyID, integration, entity)
	if errResult != nil {
		e.logAttempt(ctx, companyID, integration, entity, "create", string(core.DirectionFromOmni),
			internalID, "", errResult, time.Since(start))
		return errResult
	}

	sc := &core.SyncContext{
		CompanyID:   companyID,
		Integration: integration,
		Config:      config,
		Direction:   core.DirectionFromOmni,
		DryRun:      opts.DryRun,
	}

	result, err := inst.SyncFromOmni(ctx, entity, internalData, sc)
	if err != nil {
		result = core.FailureResult(toSyncError(err))
	}
	result.Duration = time.Since(start)

	if result.Success && result.ExternalID != "" && internalID != "" && !opts.DryRun {
		err := e.mappings.Upsert(ctx, &store.EntityMapping{
			CompanyID:   companyID,
			Entity:      entity,
			InternalID:  internalID,
			ExternalID:  result.ExternalID,
			Integration: integration,
			MatchScore:  100,
			MatchMethod: core.MatchOutbound,
		})
		if err != nil {
			e.logger.WithError(err).Warn("failed to persist entity mapping")
		}
	}

	action := "update"
	if result.ExternalID != "" {
		action = "create"
	}
	e.logAttempt(ctx, companyID, integration, entity, action, string(core.DirectionFromOmni),
		internalID, result.ExternalID, result, result.Duration)
	return result
}

// HandleWebhook processes one inbound webhook. The raw payload is persisted
// before any processing so it survives a crash; the row is then updated
// with the outcome.
func (e *Engine) HandleWebhook(ctx context.Context, companyID, integration string, payload *core.WebhookPayload) *core.SyncResult {
	event := payload.Event
	if event == "" {
		event = "unknown"
	}
	webhookID, err := e.webhooks.Record(ctx, &store.WebhookLog{
		CompanyID:   companyID,
		Integration: integration,
		Event:       event,
		Payload:     payload.Data,
	})
	if err != nil {
		return core.FailureResult(core.Errorf(core.CodeWebhookError, "failed to record webhook: %v", err))
	}

	result := e.processWebhook(ctx, companyID, integration, payload)

	status := store.WebhookProcessed
	processErr := ""
	if !result.Success {
		status = store.WebhookFailed
		if result.Error != nil {
			processErr = result.Error.Message
		}
	}
	if err := e.webhooks.UpdateStatus(ctx, webhookID, status, processErr); err != nil {
		e.logger.WithError(err).WithField("webhook_id", webhookID).Warn("failed to update webhook status")
	}
	return result
}

func (e *Engine) processWebhook(ctx context.Context, companyID, integration string, payload *core.WebhookPayload) *core.SyncResult {
	config, err := e.configs.Get(ctx, companyID, integration)
	if err != nil {
		return core.FailureResult(core.Errorf(core.CodeWebhookError, "config lookup failed: %v", err))
	}
	if config == nil || !config.Enabled {
		return core.FailureResult(core.Errorf(core.CodeIntegrationDisabled,
			"integration %s is not enabled for this company", integration))
	}

	inst, errResult := e.instance(ctx, integration, config)
	if errResult != nil {
		return errResult
	}

	sc := &core.SyncContext{
		CompanyID:   companyID,
		Integration: integration,
		Config:      config,
		Direction:   core.DirectionToOmni,
	}
	result, err := inst.HandleWebhook(ctx, payload, sc)
	if err != nil {
		return core.FailureResult(toSyncError(err))
	}
	return result
}

// Stats merges sync log aggregates with queue depth for one integration.
func (e *Engine) Stats(ctx context.Context, companyID, integration string) (*store.SyncStats, *queue.Stats, error) {
	logStats, err := e.logs.Stats(ctx, companyID, integration)
	if err != nil {
		return nil, nil, err
	}
	queueStats, err := e.queue.Stats(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	return logStats, queueStats, nil
}

// EnqueueSync schedules an asynchronous sync job.
func (e *Engine) EnqueueSync(ctx context.Context, job *queue.Job) (string, error) {
	if job.Direction == "" {
		job.Direction = string(core.DirectionToOmni)
	}
	return e.queue.Enqueue(ctx, job)
}

// ProcessJob is the queue worker handler: it replays the job through the
// synchronous path and reports failure so the retry policy can kick in.
func (e *Engine) ProcessJob(ctx context.Context, job *queue.Job) error {
	var result *core.SyncResult
	switch job.Direction {
	case string(core.DirectionFromOmni):
		result = e.SyncFromOmni(ctx, job.CompanyID, job.Integration, job.Entity, job.Payload, Options{})
	default:
		result = e.SyncToOmni(ctx, job.CompanyID, job.Integration, job.Entity, job.Payload, Options{})
	}
	if !result.Success {
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("sync failed with status %s", result.Status)
	}
	return nil
}

// resolve runs the shared precondition chain: enabled config, live plugin
// instance, entity support. The order is fixed.
func (e *Engine) resolve(ctx context.Context, companyID, integration string, entity core.EntityType) (*core.IntegrationConfig, plugin.Plugin, *core.SyncResult) {
	config, err := e.configs.Get(ctx, companyID, integration)
	if err != nil {
		return nil, nil, core.FailureResult(core.Errorf(core.CodeSyncError, "config lookup failed: %v", err))
	}
	if config == nil || !config.Enabled {
		return nil, nil, core.FailureResult(core.Errorf(core.CodeIntegrationDisabled,
			"integration %s is not enabled for this company", integration))
	}

	inst, errResult := e.instance(ctx, integration, config)
	if errResult != nil {
		return nil, nil, errResult
	}

	if !inst.SupportsEntity(entity) {
		return nil, nil, core.FailureResult(core.Errorf(core.CodeEntityNotSupported,
			"plugin %s does not support entity %s", integration, entity))
	}
	return config, inst, nil
}

// instance returns the live plugin for (company, integration). Instances
// exist only in memory, so after a restart the first sync re-initializes
// one from the stored config; a plugin that was never registered still
// fails with PLUGIN_NOT_FOUND.
func (e *Engine) instance(ctx context.Context, integration string, config *core.IntegrationConfig) (plugin.Plugin, *core.SyncResult) {
	if inst, ok := e.registry.Instance(config.CompanyID, integration); ok {
		return inst, nil
	}
	inst, err := e.registry.Enable(ctx, integration, config)
	if err != nil {
		return nil, core.FailureResult(core.Errorf(core.CodePluginNotFound,
			"plugin %s not initialized: %v", integration, err))
	}
	return inst, nil
}

// findDuplicates loads a bounded pool of candidate records and runs the
// matcher.
func (e *Engine) findDuplicates(ctx context.Context, companyID string, entity core.EntityType, data map[string]any) (*dedup.MatchResult, error) {
	recs, err := e.records.Candidates(ctx, companyID, string(entity), records.DefaultCandidateLimit)
	if err != nil {
		return nil, err
	}
	candidates := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		c := make(map[string]any, len(rec.Data)+2)
		for k, v := range rec.Data {
			c[k] = v
		}
		c["id"] = rec.ID
		c["updatedAt"] = rec.UpdatedAt
		candidates = append(candidates, c)
	}
	return e.dedup.FindMatches(ctx, entity, data, candidates)
}

// reconcile resolves a disagreement between the matched internal record and
// the inbound data. Returns a terminal result when the conflict needs
// manual review; otherwise it stashes the reconciled data on the sync
// context and lets the plugin apply it.
func (e *Engine) reconcile(ctx context.Context, sc *core.SyncContext, entity core.EntityType, match *dedup.MatchResult, inbound, externalData map[string]any, opts Options) *core.SyncResult {
	var existing map[string]any
	for _, cand := range match.Candidates {
		if cand.ID == match.CandidateID {
			existing = cand.Data
			break
		}
	}
	if existing == nil || !dataDiffers(existing, inbound) {
		return nil
	}

	strategy := core.NewestWins
	if sc.Config.SyncSettings != nil && sc.Config.SyncSettings.ConflictStrategy != "" {
		strategy = sc.Config.SyncSettings.ConflictStrategy
	}

	dc := &conflict.DataConflict{
		EntityType:   entity,
		EntityID:     match.CandidateID,
		OmniData:     existing,
		ExternalData: inbound,
		ConflictType: e.resolver.DetectConflictType(existing, inbound),
	}
	resolution := e.resolver.Resolve(dc, strategy)

	if resolution.RequiresManualReview {
		if !opts.DryRun {
			_, err := e.conflicts.Save(ctx, &store.SyncConflict{
				CompanyID:    sc.CompanyID,
				Integration:  sc.Integration,
				Entity:       entity,
				EntityID:     match.CandidateID,
				ConflictType: string(dc.ConflictType),
				OmniData:     existing,
				ExternalData: inbound,
				Strategy:     strategy,
			})
			if err != nil {
				e.logger.WithError(err).Warn("failed to persist conflict")
			}
		}
		return &core.SyncResult{
			Success:    false,
			Status:     core.StatusConflict,
			InternalID: match.CandidateID,
			ExternalID: stringField(externalData, "id"),
			Error: &core.SyncError{
				Code:    core.CodeSyncError,
				Message: "conflict requires manual review",
			},
		}
	}

	sc.Resolved = resolution.Resolved
	return nil
}

func (e *Engine) logAttempt(ctx context.Context, companyID, integration string, entity core.EntityType, action, direction, internalID, externalID string, result *core.SyncResult, duration time.Duration) {
	status := result.Status
	if status == "" {
		status = core.StatusFailed
	}
	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Message
	}
	err := e.logs.Append(ctx, &store.SyncLog{
		CompanyID:    companyID,
		Integration:  integration,
		Entity:       entity,
		Action:       action,
		Direction:    direction,
		InternalID:   internalID,
		ExternalID:   externalID,
		Status:       status,
		ErrorMessage: errMsg,
		Duration:     duration,
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to append sync log")
	}
}

// dataDiffers reports whether the inbound data would change any field it
// carries on the existing record.
func dataDiffers(existing, inbound map[string]any) bool {
	for k, v := range inbound {
		if k == "id" || k == "updatedAt" {
			continue
		}
		if ev, ok := existing[k]; !ok || !looseEqual(ev, v) {
			return true
		}
	}
	return false
}

func looseEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toSyncError(err error) *core.SyncError {
	if se, ok := err.(*core.SyncError); ok {
		return se
	}
	return core.NewSyncError(core.CodeSyncError, err.Error())
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
