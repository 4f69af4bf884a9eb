package plugin

import (
	"context"
	"testing"

	"github.com/omniplat/sync-core/internal/core"
)

type fakePlugin struct {
	Base
}

func newFakeFactory(required ...string) Factory {
	return func(deps Deps) Plugin {
		return &fakePlugin{Base: NewBase(Metadata{
			Name:              "fake",
			Version:           "1.0.0",
			SupportedEntities: []core.EntityType{core.EntityContact},
			RequiredConfig:    required,
		}, deps)}
	}
}

func (p *fakePlugin) SyncToOmni(ctx context.Context, entity core.EntityType, data map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("int-1", "ext-1"), nil
}

func (p *fakePlugin) SyncFromOmni(ctx context.Context, entity core.EntityType, data map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("int-1", "ext-1"), nil
}

func (p *fakePlugin) HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error) {
	return core.SuccessResult("int-1", "ext-1"), nil
}

func (p *fakePlugin) MapToOmni(entity core.EntityType, data map[string]any) (*core.EntityData, error) {
	return &core.EntityData{Type: entity, Data: data}, nil
}

func (p *fakePlugin) MapFromOmni(entity core.EntityType, data map[string]any) (map[string]any, error) {
	return data, nil
}

func testConfig(companyID string, cfg map[string]any) *core.IntegrationConfig {
	return &core.IntegrationConfig{
		CompanyID:   companyID,
		Integration: "fake",
		Enabled:     true,
		Config:      cfg,
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry(Deps{}, nil)
	r.Register("fake", newFakeFactory())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("fake", newFakeFactory())
}

func TestEnableUnknownPlugin(t *testing.T) {
	r := NewRegistry(Deps{}, nil)

	_, err := r.Enable(context.Background(), "missing", testConfig("c1", nil))
	if err == nil {
		t.Fatal("expected error for unknown plugin")
	}
	coded, ok := err.(core.CodedError)
	if !ok || coded.CodeValue() != string(core.CodePluginNotFound) {
		t.Fatalf("expected PLUGIN_NOT_FOUND, got %v", err)
	}
}

func TestEnableValidatesRequiredConfig(t *testing.T) {
	r := NewRegistry(Deps{}, nil)
	r.Register("fake", newFakeFactory("apiKey"))

	_, err := r.Enable(context.Background(), "fake", testConfig("c1", map[string]any{"apiKey": ""}))
	if err == nil {
		t.Fatal("expected error for empty required key")
	}

	inst, err := r.Enable(context.Background(), "fake", testConfig("c1", map[string]any{"apiKey": "secret"}))
	if err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if !inst.HealthCheck(context.Background()) {
		t.Fatal("expected initialized instance to be healthy")
	}
}

func TestInstancesAreCompanyScoped(t *testing.T) {
	r := NewRegistry(Deps{}, nil)
	r.Register("fake", newFakeFactory())

	ctx := context.Background()
	a, err := r.Enable(ctx, "fake", testConfig("company-a", map[string]any{}))
	if err != nil {
		t.Fatalf("enable a: %v", err)
	}
	b, err := r.Enable(ctx, "fake", testConfig("company-b", map[string]any{}))
	if err != nil {
		t.Fatalf("enable b: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct instances per company")
	}

	got, ok := r.Instance("company-a", "fake")
	if !ok || got != a {
		t.Fatal("expected company-a instance back")
	}

	r.Disable("company-a", "fake")
	if _, ok := r.Instance("company-a", "fake"); ok {
		t.Fatal("expected instance gone after disable")
	}
	if _, ok := r.Instance("company-b", "fake"); !ok {
		t.Fatal("disable must not touch other companies")
	}
}

func TestSupportingAndCompanyListings(t *testing.T) {
	r := NewRegistry(Deps{}, nil)
	r.Register("fake", newFakeFactory())

	if names := r.Supporting(core.EntityContact); len(names) != 1 || names[0] != "fake" {
		t.Fatalf("contact plugins = %v", names)
	}
	if names := r.Supporting(core.EntityInvoice); len(names) != 0 {
		t.Fatalf("invoice plugins = %v", names)
	}

	ctx := context.Background()
	if _, err := r.Enable(ctx, "fake", testConfig("company-a", map[string]any{})); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if live := r.CompanyInstances("company-a"); len(live) != 1 || live[0] != "fake" {
		t.Fatalf("company-a instances = %v", live)
	}
	if live := r.CompanyInstances("company-b"); len(live) != 0 {
		t.Fatalf("company-b instances = %v", live)
	}

	health := r.Health(ctx, "company-a")
	if !health["fake"] {
		t.Fatalf("health = %v", health)
	}
}

func TestDescribeListsMetadata(t *testing.T) {
	r := NewRegistry(Deps{}, nil)
	r.Register("fake", newFakeFactory("apiKey"))

	metas := r.Describe()
	if len(metas) != 1 || metas[0].Name != "fake" {
		t.Fatalf("unexpected metadata: %+v", metas)
	}
	if !metas[0].Supports(core.EntityContact) {
		t.Fatal("expected contact support")
	}
	if metas[0].Supports(core.EntityInvoice) {
		t.Fatal("unexpected invoice support")
	}
}
