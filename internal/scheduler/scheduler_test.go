package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/store"
)

type noopPlugin struct {
	plugin.Base
}

func newNoopPlugin(deps plugin.Deps) plugin.Plugin {
	return &noopPlugin{Base: plugin.NewBase(plugin.Metadata{
		Name:              "crm",
		Version:           "1.0.0",
		SupportedEntities: []core.EntityType{core.EntityContact},
	}, deps)}
}

func (p *noopPlugin) SyncToOmni(ctx context.Context, entity core.EntityType, data map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("", ""), nil
}

func (p *noopPlugin) SyncFromOmni(ctx context.Context, entity core.EntityType, data map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("", ""), nil
}

func (p *noopPlugin) HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("", ""), nil
}

func (p *noopPlugin) MapToOmni(entity core.EntityType, data map[string]any) (*core.EntityData, error) {
	return &core.EntityData{Type: entity, Data: data}, nil
}

func (p *noopPlugin) MapFromOmni(entity core.EntityType, data map[string]any) (map[string]any, error) {
	return data, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Memory, *records.MemoryDirectory, *queue.Queue) {
	t.Helper()
	mem := store.NewMemory()
	dir := records.NewMemoryDirectory()
	reg := plugin.NewRegistry(plugin.Deps{Records: dir}, nil)
	reg.Register("crm", newNoopPlugin)
	q := queue.New(queue.NewMemoryStore(), queue.RetryPolicy{}, nil)

	s := New(Config{}, Deps{
		Configs:  mem.Configs(),
		Records:  dir,
		Registry: reg,
		Queue:    q,
	})
	return s, mem, dir, q
}

func autoSyncConfig(companyID string, enabled bool, intervalMins int) *core.IntegrationConfig {
	return &core.IntegrationConfig{
		CompanyID:   companyID,
		Integration: "crm",
		Enabled:     true,
		Config:      map[string]any{},
		SyncSettings: &core.SyncSettings{
			Entities:         []core.EntityType{core.EntityContact},
			Direction:        core.DirectionBidirectional,
			AutoSync:         enabled,
			SyncIntervalMins: intervalMins,
		},
	}
}

func TestTickEnqueuesOutboundJobsOncePerInterval(t *testing.T) {
	ctx := context.Background()
	s, mem, dir, q := newTestScheduler(t)

	if err := mem.Configs().Save(ctx, autoSyncConfig("acme", true, 30)); err != nil {
		t.Fatalf("save config: %v", err)
	}
	for _, name := range []string{"Ana", "Rui"} {
		if _, err := dir.Upsert(ctx, &records.Record{
			CompanyID: "acme",
			Entity:    "contact",
			Data:      map[string]any{"name": name},
		}); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	s.Tick(ctx)

	stats, _ := q.Stats(ctx, "acme")
	if stats.Pending != 2 {
		t.Fatalf("pending after tick = %d, want 2", stats.Pending)
	}
	jobs, _ := q.NextJobs(ctx, 10)
	for _, job := range jobs {
		if job.Direction != string(core.DirectionFromOmni) || job.Entity != core.EntityContact {
			t.Fatalf("job = %+v", job)
		}
		if id, _ := job.Payload["id"].(string); id == "" {
			t.Fatalf("payload missing record id: %v", job.Payload)
		}
	}

	// Interval has not elapsed: the next tick is a no-op.
	s.Tick(ctx)
	stats, _ = q.Stats(ctx, "acme")
	if stats.Pending != 2 {
		t.Fatalf("pending after second tick = %d, want 2", stats.Pending)
	}
}

func TestTickSkipsOptedOutTenants(t *testing.T) {
	ctx := context.Background()
	s, mem, dir, q := newTestScheduler(t)

	if err := mem.Configs().Save(ctx, autoSyncConfig("acme", false, 30)); err != nil {
		t.Fatalf("save config: %v", err)
	}
	dir.Upsert(ctx, &records.Record{CompanyID: "acme", Entity: "contact", Data: map[string]any{"name": "Ana"}})

	s.Tick(ctx)

	stats, _ := q.Stats(ctx, "")
	if stats.Total != 0 {
		t.Fatalf("opted-out tenant got %d jobs", stats.Total)
	}
}

func TestTickSkipsPullOnlyTenants(t *testing.T) {
	ctx := context.Background()
	s, mem, dir, q := newTestScheduler(t)

	cfg := autoSyncConfig("acme", true, 30)
	cfg.SyncSettings.Direction = core.DirectionToOmni
	if err := mem.Configs().Save(ctx, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	dir.Upsert(ctx, &records.Record{CompanyID: "acme", Entity: "contact", Data: map[string]any{"name": "Ana"}})

	s.Tick(ctx)

	stats, _ := q.Stats(ctx, "")
	if stats.Total != 0 {
		t.Fatalf("pull-only tenant got %d jobs", stats.Total)
	}
}

// flakyStore fails job creation while fail is set.
type flakyStore struct {
	*queue.MemoryStore
	fail bool
}

func (s *flakyStore) Create(ctx context.Context, job *queue.Job) (string, error) {
	if s.fail {
		return "", context.DeadlineExceeded
	}
	return s.MemoryStore.Create(ctx, job)
}

func TestTickRetriesTenantAfterEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	dir := records.NewMemoryDirectory()
	reg := plugin.NewRegistry(plugin.Deps{Records: dir}, nil)
	reg.Register("crm", newNoopPlugin)
	st := &flakyStore{MemoryStore: queue.NewMemoryStore(), fail: true}
	q := queue.New(st, queue.RetryPolicy{}, nil)

	s := New(Config{}, Deps{
		Configs:  mem.Configs(),
		Records:  dir,
		Registry: reg,
		Queue:    q,
	})

	if err := mem.Configs().Save(ctx, autoSyncConfig("acme", true, 30)); err != nil {
		t.Fatalf("save config: %v", err)
	}
	dir.Upsert(ctx, &records.Record{CompanyID: "acme", Entity: "contact", Data: map[string]any{"name": "Ana"}})

	s.Tick(ctx)
	stats, _ := q.Stats(ctx, "acme")
	if stats.Total != 0 {
		t.Fatalf("failed enqueue left %d jobs", stats.Total)
	}

	// The failed tenant is not charged for the interval: the very next
	// tick retries it.
	st.fail = false
	s.Tick(ctx)
	stats, _ = q.Stats(ctx, "acme")
	if stats.Pending != 1 {
		t.Fatalf("pending after retry tick = %d, want 1", stats.Pending)
	}

	// A successful run does start the interval.
	s.Tick(ctx)
	stats, _ = q.Stats(ctx, "acme")
	if stats.Pending != 1 {
		t.Fatalf("interval not honored after success, pending = %d", stats.Pending)
	}
}

func TestSweepCleansFinishedJobs(t *testing.T) {
	ctx := context.Background()
	s, _, _, q := newTestScheduler(t)
	s.cfg.Retention = -time.Second // everything finished counts as old

	id, _ := q.Enqueue(ctx, &queue.Job{
		CompanyID:   "acme",
		Integration: "crm",
		Entity:      core.EntityContact,
		Action:      "update",
	})
	q.Claim(ctx, id)
	q.Complete(ctx, id)

	s.Sweep(ctx)

	stats, _ := q.Stats(ctx, "")
	if stats.Total != 0 {
		t.Fatalf("sweep left %d jobs", stats.Total)
	}
}
