package confirm8

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/records"
)

func testConfig(extra map[string]any) *core.IntegrationConfig {
	cfg := map[string]any{
		"apiDomain":    "acme",
		"apiKeyToken":  "tok",
		"apiKeySecret": "sec",
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return &core.IntegrationConfig{
		CompanyID:   "acme",
		Integration: "confirm8",
		Enabled:     true,
		Config:      cfg,
	}
}

func newInitialized(t *testing.T, extra map[string]any) (*Confirm8, *records.MemoryDirectory) {
	t.Helper()
	dir := records.NewMemoryDirectory()
	p := New(plugin.Deps{Records: dir}).(*Confirm8)
	if err := p.Initialize(context.Background(), testConfig(extra)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p, dir
}

func TestInitializeRequiresKeyPair(t *testing.T) {
	p := New(plugin.Deps{Records: records.NewMemoryDirectory()})
	err := p.Initialize(context.Background(), &core.IntegrationConfig{
		CompanyID:   "acme",
		Integration: "confirm8",
		Config:      map[string]any{"apiDomain": "acme", "apiKeyToken": "tok"},
	})
	if err == nil {
		t.Fatal("expected error for missing apiKeySecret")
	}
}

func TestMapClientToOmni(t *testing.T) {
	p, _ := newInitialized(t, nil)

	mapped, err := p.MapToOmni(core.EntityContact, map[string]any{
		"id":         "c8-1",
		"full_name":  "João Pereira",
		"email":      "Joao@Example.com",
		"mobile":     "(21) 99876-5432",
		"zip_code":   "22000-000",
		"notes":      "VIP",
		"updated_at": "2026-08-10T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	data := mapped.Data
	if data["name"] != "João Pereira" {
		t.Errorf("full_name fallback: name = %v", data["name"])
	}
	if data["email"] != "joao@example.com" {
		t.Errorf("email = %v", data["email"])
	}
	if data["phone"] != "5521998765432" {
		t.Errorf("mobile fallback: phone = %v", data["phone"])
	}
	if data["zipCode"] != "22000-000" {
		t.Errorf("zipCode = %v", data["zipCode"])
	}
	custom := data["customFields"].(map[string]any)
	if custom["confirm8_id"] != "c8-1" || custom["confirm8_notes"] != "VIP" {
		t.Errorf("customFields = %v", custom)
	}
	if mapped.Metadata == nil || mapped.Metadata.Source != "confirm8" || mapped.Metadata.LastModified == nil {
		t.Fatalf("metadata = %+v", mapped.Metadata)
	}
}

func TestMapAppointmentStatusDefaults(t *testing.T) {
	p, _ := newInitialized(t, nil)

	mapped, _ := p.MapToOmni(core.EntityAppointment, map[string]any{
		"id":           "a-1",
		"client_id":    "c8-1",
		"service_name": "Haircut",
		"status":       "no_show",
	})
	if mapped.Data["status"] != "no_show" || mapped.Data["title"] != "Haircut" {
		t.Errorf("appointment = %v", mapped.Data)
	}

	unknown, _ := p.MapToOmni(core.EntityAppointment, map[string]any{
		"id":     "a-2",
		"status": "rescheduled-by-phone",
	})
	if unknown.Data["status"] != "scheduled" {
		t.Errorf("unknown status = %v", unknown.Data["status"])
	}
	if unknown.Data["title"] != "Appointment" {
		t.Errorf("default title = %v", unknown.Data["title"])
	}
}

func TestSyncToOmniStoresAppointment(t *testing.T) {
	ctx := context.Background()
	p, dir := newInitialized(t, nil)

	res, err := p.SyncToOmni(ctx, core.EntityAppointment, map[string]any{
		"id":           "a-9",
		"client_id":    "c8-1",
		"service_name": "Review",
		"status":       "confirmed",
	}, &core.SyncContext{CompanyID: "acme", Integration: "confirm8"})
	if err != nil || !res.Success || res.ExternalID != "a-9" {
		t.Fatalf("sync: res=%+v err=%v", res, err)
	}

	rec, err := dir.Get(ctx, "acme", "appointment", res.InternalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Data["status"] != "confirmed" {
		t.Errorf("stored data = %v", rec.Data)
	}
}

func TestSyncFromOmniCreatesAppointmentOnDefaultCalendar(t *testing.T) {
	var gotToken, gotCalendar string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotToken = r.Header.Get("X-API-Token")
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotCalendar, _ = body["calendar_id"].(string)
		json.NewEncoder(w).Encode(map[string]any{"id": "a-new-1"})
	}))
	defer srv.Close()

	p, _ := newInitialized(t, map[string]any{
		"apiBaseUrl":      srv.URL,
		"defaultCalendar": "cal-main",
	})

	res, err := p.SyncFromOmni(context.Background(), core.EntityAppointment, map[string]any{
		"id":    "omni-a-1",
		"title": "Review",
	}, &core.SyncContext{CompanyID: "acme"})
	if err != nil || !res.Success {
		t.Fatalf("sync from omni: res=%+v err=%v", res, err)
	}
	if res.InternalID != "omni-a-1" || res.ExternalID != "a-new-1" {
		t.Fatalf("ids: %+v", res)
	}
	if gotToken != "tok" {
		t.Errorf("X-API-Token = %q", gotToken)
	}
	if gotCalendar != "cal-main" {
		t.Errorf("calendar_id = %q", gotCalendar)
	}
}

func TestSyncFromOmniUpdatesLinkedClient(t *testing.T) {
	var putPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := newInitialized(t, map[string]any{"apiBaseUrl": srv.URL})

	res, err := p.SyncFromOmni(context.Background(), core.EntityContact, map[string]any{
		"id":           "omni-1",
		"name":         "João",
		"customFields": map[string]any{"confirm8_id": "c8-42"},
	}, &core.SyncContext{CompanyID: "acme"})
	if err != nil || res.ExternalID != "c8-42" {
		t.Fatalf("update: res=%+v err=%v", res, err)
	}
	if putPath != "/clients/c8-42" {
		t.Errorf("put %q", putPath)
	}
}

func TestSyncFromOmniDryRunSkipsAPI(t *testing.T) {
	p, _ := newInitialized(t, map[string]any{"apiBaseUrl": "http://confirm8.invalid"})
	res, err := p.SyncFromOmni(context.Background(), core.EntityContact, map[string]any{
		"id": "omni-1",
	}, &core.SyncContext{CompanyID: "acme", DryRun: true})
	if err != nil || !res.Success || res.InternalID != "omni-1" || res.ExternalID != "" {
		t.Fatalf("dry run: res=%+v err=%v", res, err)
	}
}

func TestWebhookRoutesByEventPrefix(t *testing.T) {
	ctx := context.Background()
	p, dir := newInitialized(t, nil)
	sc := &core.SyncContext{CompanyID: "acme", Integration: "confirm8"}

	res, err := p.HandleWebhook(ctx, &core.WebhookPayload{
		Event: "client.created",
		Data:  map[string]any{"id": "c8-1", "name": "João", "email": "joao@example.com"},
	}, sc)
	if err != nil || !res.Success {
		t.Fatalf("client webhook: res=%+v err=%v", res, err)
	}
	if contacts, _ := dir.Candidates(ctx, "acme", "contact", 0); len(contacts) != 1 {
		t.Fatalf("contact not stored")
	}

	res, err = p.HandleWebhook(ctx, &core.WebhookPayload{
		Event: "appointment.scheduled",
		Data:  map[string]any{"id": "a-1", "client_id": "c8-1", "status": "scheduled"},
	}, sc)
	if err != nil || !res.Success {
		t.Fatalf("appointment webhook: res=%+v err=%v", res, err)
	}
	if appts, _ := dir.Candidates(ctx, "acme", "appointment", 0); len(appts) != 1 {
		t.Fatalf("appointment not stored")
	}

	skip, err := p.HandleWebhook(ctx, &core.WebhookPayload{Event: "staff.updated"}, sc)
	if err != nil || skip.Status != core.StatusSkipped {
		t.Fatalf("unknown event: res=%+v err=%v", skip, err)
	}
}
