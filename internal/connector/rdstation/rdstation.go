// Package rdstation adapts RD Station CRM to the sync engine: contacts
// (leads) and deals, webhook delivery for both, OAuth token refresh, and
// the vendor's 120 requests/minute budget.
package rdstation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/httpx"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/records"
)

const defaultBaseURL = "https://api.rd.services"

// RDStation syncs contacts and deals with RD Station CRM.
type RDStation struct {
	plugin.Base
	api *httpx.Client
}

// New creates an uninitialized RD Station plugin instance.
func New(deps plugin.Deps) plugin.Plugin {
	return &RDStation{Base: plugin.NewBase(plugin.Metadata{
		Name:        "rdstation",
		Version:     "1.0.0",
		Description: "RD Station CRM Integration",
		Author:      "OMNI Platform",
		SupportedEntities: []core.EntityType{
			core.EntityContact,
			core.EntityDeal,
		},
		RequiredConfig: []string{"clientId", "clientSecret", "refreshToken"},
		OptionalConfig: []string{"webhookSecret", "apiBaseUrl"},
		WebhookEvents: []string{
			"contact.created",
			"contact.updated",
			"deal.created",
			"deal.updated",
			"deal.won",
			"deal.lost",
		},
		RateLimit: &core.RateLimitConfig{MaxRequests: 120, WindowMs: 60000},
	}, deps)}
}

// Initialize validates credentials and builds the API client with OAuth
// token refresh and the vendor rate limit applied.
func (p *RDStation) Initialize(ctx context.Context, config *core.IntegrationConfig) error {
	if err := p.Base.Initialize(ctx, config); err != nil {
		return err
	}

	baseURL := p.ConfigString("apiBaseUrl")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cfg := httpx.DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.ApplyRateLimit(p.Metadata().RateLimit)
	cfg.Auth = &httpx.RefreshingBearer{Source: &oauthTokenSource{
		tokens:       httpx.NewClient(&httpx.ClientConfig{BaseURL: baseURL}),
		clientID:     p.ConfigString("clientId"),
		clientSecret: p.ConfigString("clientSecret"),
		refreshToken: p.ConfigString("refreshToken"),
	}}
	p.api = httpx.NewClient(cfg)
	return nil
}

// SyncToOmni applies one RD Station record to the internal store.
func (p *RDStation) SyncToOmni(ctx context.Context, entity core.EntityType, externalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeSyncError, "rdstation plugin not initialized")
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

	externalID := externalIDFor(entity, externalData)
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

// SyncFromOmni pushes one internal record to RD Station, creating it when
// no vendor id is linked yet and updating in place otherwise.
func (p *RDStation) SyncFromOmni(ctx context.Context, entity core.EntityType, internalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeSyncError, "rdstation plugin not initialized")
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

	switch entity {
	case core.EntityContact:
		return p.pushContact(ctx, internalID, internalData, payload)
	case core.EntityDeal:
		return p.pushDeal(ctx, internalID, internalData, payload)
	}
	return core.FailureResult(core.Errorf(core.CodeEntityNotSupported, "entity %s not supported", entity)), nil
}

func (p *RDStation) pushContact(ctx context.Context, internalID string, internalData, payload map[string]any) (*core.SyncResult, error) {
	if uuid := linkedVendorID(internalData, "rdstation_uuid"); uuid != "" {
		if _, err := p.api.Patch(ctx, "/platform/contacts/"+uuid, payload); err != nil {
			return nil, fmt.Errorf("update rdstation contact %s: %w", uuid, err)
		}
		return core.SuccessResult(internalID, uuid), nil
	}

	resp, err := p.api.Post(ctx, "/platform/contacts", payload)
	if err != nil {
		return nil, fmt.Errorf("create rdstation contact: %w", err)
	}
	var created struct {
		UUID string `json:"uuid"`
	}
	if err := resp.JSON(&created); err != nil {
		return nil, fmt.Errorf("decode rdstation contact response: %w", err)
	}
	return core.SuccessResult(internalID, created.UUID), nil
}

func (p *RDStation) pushDeal(ctx context.Context, internalID string, internalData, payload map[string]any) (*core.SyncResult, error) {
	if id := linkedVendorID(internalData, "rdstation_id"); id != "" {
		if _, err := p.api.Put(ctx, "/crm/deals/"+id, payload); err != nil {
			return nil, fmt.Errorf("update rdstation deal %s: %w", id, err)
		}
		return core.SuccessResult(internalID, id), nil
	}

	resp, err := p.api.Post(ctx, "/crm/deals", payload)
	if err != nil {
		return nil, fmt.Errorf("create rdstation deal: %w", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&created); err != nil {
		return nil, fmt.Errorf("decode rdstation deal response: %w", err)
	}
	return core.SuccessResult(internalID, created.ID), nil
}

// HandleWebhook verifies the event signature when a secret is configured
// and routes contact.* and deal.* events to the inbound sync path.
func (p *RDStation) HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error) {
	if !p.Initialized() {
		return nil, core.Errorf(core.CodeWebhookError, "rdstation plugin not initialized")
	}

	if secret := p.ConfigString("webhookSecret"); secret != "" {
		if !verifySignature(payload, secret) {
			return core.FailureResult(core.NewSyncError(core.CodeInvalidSignature, "webhook signature validation failed")), nil
		}
	}

	switch {
	case strings.HasPrefix(payload.Event, "contact."):
		return p.SyncToOmni(ctx, core.EntityContact, payload.Data, sc)
	case strings.HasPrefix(payload.Event, "deal."):
		return p.SyncToOmni(ctx, core.EntityDeal, payload.Data, sc)
	}

	// Unrecognized events acknowledge without syncing so the vendor does
	// not keep redelivering them.
	return &core.SyncResult{Success: true, Status: core.StatusSkipped}, nil
}

// HealthCheck probes the account endpoint; any authenticated response
// counts as healthy.
func (p *RDStation) HealthCheck(ctx context.Context) bool {
	if !p.Initialized() || p.api == nil {
		return false
	}
	resp, err := p.api.Get(ctx, "/marketing/account_info", nil)
	return err == nil && resp.IsSuccess()
}

// verifySignature checks the HMAC-SHA256 of the JSON-encoded event data
// against the hex signature carried in the payload.
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

// externalIDFor picks the vendor id field: contacts carry a uuid, deals a
// plain id.
func externalIDFor(entity core.EntityType, externalData map[string]any) string {
	if entity == core.EntityContact {
		if uuid, _ := externalData["uuid"].(string); uuid != "" {
			return uuid
		}
	}
	switch id := externalData["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}

// linkedVendorID digs the previously linked vendor id out of the internal
// record's custom fields.
func linkedVendorID(internalData map[string]any, key string) string {
	custom, _ := internalData["customFields"].(map[string]any)
	if custom == nil {
		return ""
	}
	id, _ := custom[key].(string)
	return id
}

// oauthTokenSource exchanges the stored refresh token for short-lived
// access tokens, caching each one until shortly before it expires.
type oauthTokenSource struct {
	tokens       *httpx.Client
	clientID     string
	clientSecret string
	refreshToken string

	cached  string
	expires time.Time
}

func (s *oauthTokenSource) Token() (string, error) {
	if s.cached != "" && time.Now().Before(s.expires) {
		return s.cached, nil
	}

	resp, err := s.tokens.Post(context.Background(), "/auth/token", map[string]any{
		"client_id":     s.clientID,
		"client_secret": s.clientSecret,
		"refresh_token": s.refreshToken,
	})
	if err != nil {
		return "", fmt.Errorf("refresh rdstation token: %w", err)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.JSON(&body); err != nil {
		return "", fmt.Errorf("decode rdstation token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("rdstation token response missing access_token")
	}

	s.cached = body.AccessToken
	// Renew a minute early so in-flight requests never carry a stale token.
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	s.expires = time.Now().Add(ttl)
	return s.cached, nil
}
