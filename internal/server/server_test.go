package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omniplat/sync-core/internal/conflict"
	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/dedup"
	"github.com/omniplat/sync-core/internal/engine"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/store"
)

// testPlugin stores contacts through the records directory, mirroring the
// behavior of the real connectors.
type testPlugin struct {
	plugin.Base
}

func newTestPlugin(name string) plugin.Factory {
	return func(deps plugin.Deps) plugin.Plugin {
		return &testPlugin{Base: plugin.NewBase(plugin.Metadata{
			Name:              name,
			Version:           "1.0.0",
			SupportedEntities: []core.EntityType{core.EntityContact},
		}, deps)}
	}
}

func (p *testPlugin) MapToOmni(entity core.EntityType, externalData map[string]any) (*core.EntityData, error) {
	data := make(map[string]any, len(externalData))
	for k, v := range externalData {
		if k != "id" {
			data[k] = v
		}
	}
	return &core.EntityData{Type: entity, Data: data}, nil
}

func (p *testPlugin) MapFromOmni(entity core.EntityType, internalData map[string]any) (map[string]any, error) {
	return internalData, nil
}

func (p *testPlugin) SyncToOmni(ctx context.Context, entity core.EntityType, externalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	mapped, _ := p.MapToOmni(entity, externalData)
	data := mapped.Data
	if sc.Resolved != nil {
		data = sc.Resolved
	}
	externalID, _ := externalData["id"].(string)
	if sc.DryRun {
		return core.SuccessResult(sc.InternalID, externalID), nil
	}
	rec, err := p.Deps().Records.Upsert(ctx, &records.Record{
		ID:        sc.InternalID,
		CompanyID: sc.CompanyID,
		Entity:    string(entity),
		Data:      data,
	})
	if err != nil {
		return nil, err
	}
	return core.SuccessResult(rec.ID, externalID), nil
}

func (p *testPlugin) SyncFromOmni(ctx context.Context, entity core.EntityType, internalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	internalID, _ := internalData["id"].(string)
	return core.SuccessResult(internalID, "ext-out-1"), nil
}

func (p *testPlugin) HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error) {
	return p.SyncToOmni(ctx, core.EntityContact, payload.Data, sc)
}

type fixture struct {
	server *Server
	mem    *store.Memory
	dir    *records.MemoryDirectory
	queue  *queue.Queue
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemory()
	dir := records.NewMemoryDirectory()
	reg := plugin.NewRegistry(plugin.Deps{Records: dir}, nil)
	reg.Register("crm", newTestPlugin("crm"))
	reg.Register("confirm8", newTestPlugin("confirm8"))
	q := queue.New(queue.NewMemoryStore(), queue.RetryPolicy{}, nil)

	eng := engine.New(engine.Deps{
		Configs:   mem.Configs(),
		Mappings:  mem.Mappings(),
		Logs:      mem.Logs(),
		Webhooks:  mem.Webhooks(),
		Conflicts: mem.Conflicts(),
		Records:   dir,
		Registry:  reg,
		Dedup:     dedup.NewEngine(dedup.Options{}, nil),
		Resolver:  conflict.NewResolver(conflict.Options{}, nil),
		Queue:     q,
	})

	srv, err := New(Deps{
		Engine:    eng,
		Configs:   mem.Configs(),
		Mappings:  mem.Mappings(),
		Logs:      mem.Logs(),
		Webhooks:  mem.Webhooks(),
		Conflicts: mem.Conflicts(),
		Records:   dir,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &fixture{server: srv, mem: mem, dir: dir, queue: q, ctx: context.Background()}
}

func (f *fixture) enable(t *testing.T, integration string, cfg map[string]any) {
	t.Helper()
	err := f.mem.Configs().Save(f.ctx, &core.IntegrationConfig{
		CompanyID:   "acme",
		Integration: integration,
		Enabled:     true,
		Config:      cfg,
		SyncSettings: &core.SyncSettings{
			Entities:  []core.EntityType{core.EntityContact},
			Direction: core.DirectionBidirectional,
		},
	})
	if err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func TestSaveConfigValidatesSchema(t *testing.T) {
	f := newFixture(t)

	// Missing required integration field.
	w := f.do(http.MethodPut, "/sync/config", map[string]any{
		"companyId": "acme",
		"config":    map[string]any{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field accepted: %d %s", w.Code, w.Body.String())
	}

	// Bad enum value in sync settings.
	w = f.do(http.MethodPut, "/sync/config", map[string]any{
		"companyId":    "acme",
		"integration":  "crm",
		"config":       map[string]any{},
		"syncSettings": map[string]any{"direction": "sideways"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad enum accepted: %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodPut, "/sync/config", map[string]any{
		"companyId":   "acme",
		"integration": "crm",
		"enabled":     true,
		"config":      map[string]any{},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("valid config rejected: %d %s", w.Code, w.Body.String())
	}

	saved, _ := f.mem.Configs().Get(f.ctx, "acme", "crm")
	if saved == nil || !saved.Enabled {
		t.Fatalf("config not persisted: %+v", saved)
	}
	if _, ok := f.server.deps.Engine.Registry().Instance("acme", "crm"); !ok {
		t.Fatal("enabling must initialize the plugin instance")
	}
}

func TestSaveConfigUnknownPluginRejected(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPut, "/sync/config", map[string]any{
		"companyId":   "acme",
		"integration": "nope",
		"enabled":     true,
		"config":      map[string]any{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown plugin accepted: %d %s", w.Code, w.Body.String())
	}
}

func TestGenericWebhookStoresRecord(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "crm", map[string]any{})

	w := f.do(http.MethodPost, "/webhooks/crm/acme", map[string]any{
		"event": "contact.updated",
		"data":  map[string]any{"id": "ext-1", "name": "Ana", "email": "ana@example.com"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}

	recs, _ := f.dir.Candidates(f.ctx, "acme", "contact", 0)
	if len(recs) != 1 || recs[0].Data["name"] != "Ana" {
		t.Fatalf("records = %+v", recs)
	}

	logs := f.do(http.MethodGet, "/webhooks/logs?companyId=acme&integration=crm", nil)
	if logs.Code != http.StatusOK {
		t.Fatalf("webhook logs: %d", logs.Code)
	}
	var body struct {
		Webhooks []*store.WebhookLog `json:"webhooks"`
	}
	json.Unmarshal(logs.Body.Bytes(), &body)
	if len(body.Webhooks) != 1 || body.Webhooks[0].Status != store.WebhookProcessed {
		t.Fatalf("webhook log = %+v", body.Webhooks)
	}
}

func TestConfirm8WebhookRoutesByDomain(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "confirm8", map[string]any{"apiDomain": "acme-clinic"})

	w := f.do(http.MethodPost, "/webhooks/confirm8", map[string]any{
		"event": "client.created",
		"data": map[string]any{
			"id":      "c8-1",
			"name":    "João",
			"account": map[string]any{"domain": "acme-clinic"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm8 webhook: %d %s", w.Code, w.Body.String())
	}
	if recs, _ := f.dir.Candidates(f.ctx, "acme", "contact", 0); len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}

	miss := f.do(http.MethodPost, "/webhooks/confirm8", map[string]any{
		"event": "client.created",
		"data": map[string]any{
			"account": map[string]any{"domain": "stranger"},
		},
	})
	if miss.Code != http.StatusNotFound {
		t.Fatalf("unknown domain: %d %s", miss.Code, miss.Body.String())
	}
}

func TestManualSyncDryRunDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "crm", map[string]any{})

	w := f.do(http.MethodPost, "/sync/manual", map[string]any{
		"companyId":   "acme",
		"integration": "crm",
		"entity":      "contact",
		"dryRun":      true,
		"data":        map[string]any{"id": "ext-1", "name": "Ana"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("dry run: %d %s", w.Code, w.Body.String())
	}
	if recs, _ := f.dir.Candidates(f.ctx, "acme", "contact", 0); len(recs) != 0 {
		t.Fatalf("dry run persisted %d records", len(recs))
	}
}

func TestManualSyncEnqueuesBatch(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "crm", map[string]any{})

	w := f.do(http.MethodPost, "/sync/manual", map[string]any{
		"companyId":   "acme",
		"integration": "crm",
		"entity":      "contact",
		"records": []map[string]any{
			{"id": "ext-1", "name": "Ana"},
			{"id": "ext-2", "name": "Rui"},
		},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("manual sync: %d %s", w.Code, w.Body.String())
	}
	var body struct {
		Enqueued int      `json:"enqueued"`
		JobIDs   []string `json:"jobIds"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Enqueued != 2 || len(body.JobIDs) != 2 {
		t.Fatalf("body = %+v", body)
	}

	stats, _ := f.queue.Stats(f.ctx, "acme")
	if stats.Pending != 2 {
		t.Fatalf("pending = %d", stats.Pending)
	}
}

func TestQueueManagementEndpoints(t *testing.T) {
	f := newFixture(t)

	id, _ := f.queue.Enqueue(f.ctx, &queue.Job{
		CompanyID:   "acme",
		Integration: "crm",
		Entity:      core.EntityContact,
		Action:      "update",
	})

	// Pending jobs cannot be retried.
	w := f.do(http.MethodPost, "/sync/queue/"+id+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("retry pending: %d", w.Code)
	}

	w = f.do(http.MethodDelete, "/sync/queue/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	// Cancelled jobs are terminal failed; cancel again conflicts.
	w = f.do(http.MethodDelete, "/sync/queue/"+id, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double cancel: %d", w.Code)
	}
	// But a cancelled (failed) job can be requeued.
	w = f.do(http.MethodPost, "/sync/queue/"+id+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry failed: %d %s", w.Code, w.Body.String())
	}
}

func TestResolveConflictAppliesDataAndCloses(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.dir.Upsert(f.ctx, &records.Record{
		CompanyID: "acme",
		Entity:    "contact",
		Data:      map[string]any{"name": "Ana", "phone": "111"},
	})
	id, _ := f.mem.Conflicts().Save(f.ctx, &store.SyncConflict{
		CompanyID:    "acme",
		Integration:  "crm",
		Entity:       core.EntityContact,
		EntityID:     rec.ID,
		ConflictType: "data_mismatch",
		OmniData:     map[string]any{"phone": "111"},
		ExternalData: map[string]any{"phone": "222"},
		Strategy:     core.Manual,
	})

	w := f.do(http.MethodPost, "/sync/conflicts/"+id+"/resolve", map[string]any{
		"companyId":    "acme",
		"resolvedBy":   "operator@omni",
		"resolvedData": map[string]any{"name": "Ana", "phone": "222"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}

	updated, _ := f.dir.Get(f.ctx, "acme", "contact", rec.ID)
	if updated.Data["phone"] != "222" {
		t.Fatalf("resolved data not applied: %v", updated.Data)
	}

	again := f.do(http.MethodPost, "/sync/conflicts/"+id+"/resolve", map[string]any{
		"companyId":  "acme",
		"resolvedBy": "operator@omni",
	})
	if again.Code != http.StatusConflict {
		t.Fatalf("double resolve: %d", again.Code)
	}
}

func TestListPlugins(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/sync/plugins", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("plugins: %d", w.Code)
	}
	var body struct {
		Plugins []*plugin.Metadata `json:"plugins"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Plugins) != 2 {
		t.Fatalf("plugins = %+v", body.Plugins)
	}
}
