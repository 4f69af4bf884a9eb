// Package confirm8 adapts the Confirm8 scheduling system to the sync
// engine: clients map to contacts, appointments carry the booking
// lifecycle, and the vendor's 60 requests/minute budget is enforced.
package confirm8

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/httpx"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/records"
)

// Confirm8 syncs clients and appointments with Confirm8.
type Confirm8 struct {
	plugin.Base
	api *httpx.Client
}

// New creates an uninitialized Confirm8 plugin instance.
func New(deps plugin.Deps) plugin.Plugin {
	return &Confirm8{Base: plugin.NewBase(plugin.Metadata{
		Name:        "confirm8",
		Version:     "1.0.0",
		Description: "Confirm8 Scheduling Integration",
		Author:      "OMNI Platform",
		SupportedEntities: []core.EntityType{
			core.EntityContact,
			core.EntityAppointment,
		},
		RequiredConfig: []string{"apiDomain", "apiKeyToken", "apiKeySecret"},
		OptionalConfig: []string{"webhookSecret", "defaultCalendar", "apiBaseUrl"},
		WebhookEvents: []string{
			"appointment.scheduled",
			"appointment.cancelled",
			"appointment.completed",
			"client.created",
			"client.updated",
		},
		RateLimit: &core.RateLimitConfig{MaxRequests: 60, WindowMs: 60000},
	}, deps)}
}

// Initialize validates credentials and builds the tenant-domain API client.
// Confirm8 authenticates with a token/secret header pair rather than OAuth.
func (p *Confirm8) Initialize(ctx context.Context, config *core.IntegrationConfig) error {
	if err := p.Base.Initialize(ctx, config); err != nil {
		return err
	}

	baseURL := p.ConfigString("apiBaseUrl")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.confirm8.com/api", p.ConfigString("apiDomain"))
	}

	cfg := httpx.DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.ApplyRateLimit(p.Metadata().RateLimit)
	cfg.Headers["X-API-Token"] = p.ConfigString("apiKeyToken")
	cfg.Headers["X-API-Secret"] = p.ConfigString("apiKeySecret")
	p.api = httpx.NewClient(cfg)
	return nil
}

// SyncToOmni applies one Confirm8 record to the internal store.
func (p *Confirm8) SyncToOmni(ctx context.Context, entity core.EntityType, externalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeSyncError, "confirm8 plugin not initialized")
	}
	if !p.SupportsEntity(entity) {
		return core.FailureResult(core.Errorf(core.CodeEntityNotSupported, "entity %s not supported", entity)), nil
	}

	mapped, err := p.MapToOmni(entity, externalData)
	if err != nil {
		return nil, err
	}
	data := mapped.Data
	if sc.Resolved != nil {
		data = sc.Resolved
	}

	externalID := vendorID(externalData)
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
		return nil, fmt.Errorf("upsert %s: %w", entity, err)
	}
	return core.SuccessResult(rec.ID, externalID), nil
}

// SyncFromOmni pushes one internal record to Confirm8.
func (p *Confirm8) SyncFromOmni(ctx context.Context, entity core.EntityType, internalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeSyncError, "confirm8 plugin not initialized")
	}
	if !p.SupportsEntity(entity) {
		return core.FailureResult(core.Errorf(core.CodeEntityNotSupported, "entity %s not supported", entity)), nil
	}

	internalID, _ := internalData["id"].(string)
	if sc.DryRun {
		return core.SuccessResult(internalID, ""), nil
	}

	payload, err := p.MapFromOmni(entity, internalData)
	if err != nil {
		return nil, err
	}

	resource := "clients"
	if entity == core.EntityAppointment {
		resource = "appointments"
		// New bookings land on the configured calendar unless the record
		// already names one.
		if cal := p.ConfigString("defaultCalendar"); cal != "" {
			if _, ok := payload["calendar_id"]; !ok {
				payload["calendar_id"] = cal
			}
		}
	}

	if id := linkedVendorID(internalData); id != "" {
		if _, err := p.api.Put(ctx, "/"+resource+"/"+id, payload); err != nil {
			return nil, fmt.Errorf("update confirm8 %s %s: %w", resource, id, err)
		}
		return core.SuccessResult(internalID, id), nil
	}

	resp, err := p.api.Post(ctx, "/"+resource, payload)
	if err != nil {
		return nil, fmt.Errorf("create confirm8 %s: %w", resource, err)
	}
	var created map[string]any
	if err := resp.JSON(&created); err != nil {
		return nil, fmt.Errorf("decode confirm8 %s response: %w", resource, err)
	}
	return core.SuccessResult(internalID, vendorID(created)), nil
}

// HandleWebhook verifies the event signature when a secret is configured
// and routes client.* and appointment.* events to the inbound sync path.
func (p *Confirm8) HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeWebhookError, "confirm8 plugin not initialized")
	}

	if secret := p.ConfigString("webhookSecret"); secret != "" {
		if !verifySignature(payload, secret) {
			return core.FailureResult(core.NewSyncError(core.CodeInvalidSignature, "webhook signature validation failed")), nil
		}
	}

	switch {
	case strings.HasPrefix(payload.Event, "client."):
		return p.SyncToOmni(ctx, core.EntityContact, payload.Data, sc)
	case strings.HasPrefix(payload.Event, "appointment."):
		return p.SyncToOmni(ctx, core.EntityAppointment, payload.Data, sc)
	}

	return &core.SyncResult{Success: true, Status: core.StatusSkipped}, nil
}

// HealthCheck pings the tenant API with the configured key pair.
func (p *Confirm8) HealthCheck(ctx context.Context) bool {
	if !p.Initialized() || p.api == nil {
		return false
	}
	resp, err := p.api.Get(ctx, "/ping", nil)
	return err == nil && resp.IsSuccess()
}

func verifySignature(payload *core.WebhookPayload, secret string) bool {
	if payload.Signature == "" {
		return false
	}
	body, err := json.Marshal(payload.Data)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(payload.Signature)))
}

func vendorID(m map[string]any) string {
	switch id := m["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}

func linkedVendorID(internalData map[string]any) string {
	custom, _ := internalData["customFields"].(map[string]any)
	if custom == nil {
		return ""
	}
	switch id := custom["confirm8_id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}
