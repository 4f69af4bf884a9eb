// Package scheduler drives time-based sync work: periodic auto-sync ticks
// for integrations that opted in, and retention sweeps over finished queue
// jobs. Actual sync execution stays in the queue worker; the scheduler only
// enqueues.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/store"
)

// Config tunes the cron entries.
type Config struct {
	// TickSpec is the cron spec for auto-sync scans (default every minute).
	TickSpec string

	// CleanupSpec is the cron spec for queue retention sweeps (default daily).
	CleanupSpec string

	// Retention is how long finished jobs are kept (default 7 days).
	Retention time.Duration

	// AutoSyncPriority is the priority of enqueued auto-sync jobs
	// (default 3, below webhook-triggered work).
	AutoSyncPriority int
}

// Deps carries the scheduler collaborators.
type Deps struct {
	Configs  store.ConfigStore
	Records  records.Directory
	Registry *plugin.Registry
	Queue    *queue.Queue
	Logger   *logrus.Logger
}

type tenantKey struct {
	companyID   string
	integration string
}

// Scheduler owns the cron runner and the per-tenant last-run bookkeeping.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *logrus.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	lastRun map[tenantKey]time.Time
}

// New creates a scheduler; zero-valued config fields get defaults.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.TickSpec == "" {
		cfg.TickSpec = "@every 1m"
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = "@daily"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.AutoSyncPriority == 0 {
		cfg.AutoSyncPriority = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		cron:    cron.New(),
		lastRun: make(map[tenantKey]time.Time),
	}
}

// Start registers the cron entries and launches the runner.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.cron.AddFunc(s.cfg.TickSpec, func() { s.Tick(ctx) }); err != nil {
		return err
	}
	if err := s.cron.AddFunc(s.cfg.CleanupSpec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"tick":    s.cfg.TickSpec,
		"cleanup": s.cfg.CleanupSpec,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron runner. In-flight entries finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Tick scans enabled configs of every registered plugin and enqueues
// outbound sync jobs for tenants whose auto-sync interval has elapsed.
// Inbound changes arrive through webhooks, so auto-sync only pushes.
// A tenant's run is recorded only after its batch is enqueued, so a
// failed enqueue is retried on the next tick instead of skipping a
// whole interval.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()
	for _, name := range s.deps.Registry.List() {
		configs, err := s.deps.Configs.ListEnabled(ctx, name)
		if err != nil {
			s.logger.WithError(err).WithField("integration", name).Error("failed to list enabled configs")
			continue
		}
		for _, config := range configs {
			if !s.due(config, now) {
				continue
			}
			if err := s.enqueueTenant(ctx, config); err != nil {
				continue
			}
			s.markRun(config, now)
		}
	}
}

// Sweep removes finished queue jobs past the retention window.
func (s *Scheduler) Sweep(ctx context.Context) {
	n, err := s.deps.Queue.CleanOldJobs(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.WithError(err).Error("queue retention sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("removed", n).Info("queue retention sweep done")
	}
}

// due reports whether the tenant opted into auto-sync and its interval has
// elapsed.
func (s *Scheduler) due(config *core.IntegrationConfig, now time.Time) bool {
	settings := config.SyncSettings
	if settings == nil || !settings.AutoSync || settings.SyncIntervalMins <= 0 {
		return false
	}
	if settings.Direction == core.DirectionToOmni {
		// Pull-only tenants get their data via webhooks.
		return false
	}

	key := tenantKey{config.CompanyID, config.Integration}
	interval := time.Duration(settings.SyncIntervalMins) * time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[key]
	return !ok || now.Sub(last) >= interval
}

func (s *Scheduler) markRun(config *core.IntegrationConfig, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[tenantKey{config.CompanyID, config.Integration}] = now
}

// enqueueTenant pushes one outbound job per internal record of every
// entity the tenant syncs. BatchSize caps each entity's batch; the most
// recently touched records go first.
func (s *Scheduler) enqueueTenant(ctx context.Context, config *core.IntegrationConfig) error {
	var jobs []*queue.Job
	for _, entity := range config.SyncSettings.Entities {
		recs, err := s.deps.Records.Candidates(ctx, config.CompanyID, string(entity), config.SyncSettings.BatchSize)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"company_id": config.CompanyID,
				"entity":     entity,
			}).Error("failed to list records for auto-sync")
			return err
		}
		for _, rec := range recs {
			payload := make(map[string]any, len(rec.Data)+1)
			for k, v := range rec.Data {
				payload[k] = v
			}
			payload["id"] = rec.ID
			jobs = append(jobs, &queue.Job{
				CompanyID:   config.CompanyID,
				Integration: config.Integration,
				Entity:      entity,
				Action:      "update",
				Direction:   string(core.DirectionFromOmni),
				Payload:     payload,
				Priority:    s.cfg.AutoSyncPriority,
			})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	ids, err := s.deps.Queue.EnqueueBatch(ctx, jobs)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"company_id":  config.CompanyID,
			"integration": config.Integration,
		}).Error("failed to enqueue auto-sync batch")
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"company_id":  config.CompanyID,
		"integration": config.Integration,
		"jobs":        len(ids),
	}).Info("auto-sync batch enqueued")
	return nil
}
