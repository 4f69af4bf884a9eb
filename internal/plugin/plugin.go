// Package plugin defines the contract every external-system adapter must
// implement and the registry that manages per-company plugin instances.
//
// Architecture:
//
//	Plugin    - full adapter contract (initialize, sync both ways, webhooks, mapping)
//	Metadata  - static descriptor (name, entities, config keys, webhook events)
//	Registry  - implementations keyed by name + live per-company instances
//	Deps      - collaborator handles injected into every instance
//
// Adapters self-register a Factory from an init function in their own
// package; pkg/connector blank-imports them all.
package plugin

import (
	"context"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/records"
)

// Metadata describes a plugin implementation for registration and discovery.
type Metadata struct {
	Name              string
	Version           string
	Description       string
	Author            string
	SupportedEntities []core.EntityType
	RequiredConfig    []string
	OptionalConfig    []string
	WebhookEvents     []string
	RateLimit         *core.RateLimitConfig
}

// Supports reports whether the metadata lists the given entity kind.
func (m *Metadata) Supports(entity core.EntityType) bool {
	for _, e := range m.SupportedEntities {
		if e == entity {
			return true
		}
	}
	return false
}

// Plugin is the contract every external-system adapter implements.
//
// Initialize must be called exactly once per instance before any sync
// operation; it fails if any Metadata.RequiredConfig key is missing from the
// integration config. All blocking operations take a context because they
// may perform network I/O.
type Plugin interface {
	// Metadata returns the static descriptor for this implementation.
	Metadata() *Metadata

	// ValidateConfig reports whether the provider config carries every
	// required key. It performs no I/O.
	ValidateConfig(config map[string]any) bool

	// Initialize prepares a per-company instance with that company's
	// integration config (credentials, endpoints).
	Initialize(ctx context.Context, config *core.IntegrationConfig) error

	// SyncToOmni applies one external record to the internal system.
	SyncToOmni(ctx context.Context, entity core.EntityType, externalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error)

	// SyncFromOmni pushes one internal record to the external system.
	SyncFromOmni(ctx context.Context, entity core.EntityType, internalData map[string]any, sc *core.SyncContext) (*core.SyncResult, error)

	// HandleWebhook processes one decoded webhook event.
	HandleWebhook(ctx context.Context, payload *core.WebhookPayload, sc *core.SyncContext) (*core.SyncResult, error)

	// MapToOmni translates a vendor payload into the canonical entity shape.
	MapToOmni(entity core.EntityType, externalData map[string]any) (*core.EntityData, error)

	// MapFromOmni translates an internal record into the vendor shape.
	MapFromOmni(entity core.EntityType, internalData map[string]any) (map[string]any, error)

	// SupportsEntity reports whether this plugin handles the entity kind.
	SupportsEntity(entity core.EntityType) bool

	// SupportedEntities returns the entity kinds this plugin handles.
	SupportedEntities() []core.EntityType

	// HealthCheck reports whether the instance is initialized and the
	// external system is reachable.
	HealthCheck(ctx context.Context) bool
}

// Deps are the collaborator handles handed to every plugin instance.
// Records is the internal system of record boundary: plugins read and write
// plain records by id through it and nothing else.
type Deps struct {
	Records records.Directory
}

// Factory creates a fresh, uninitialized plugin instance. The registry calls
// it once per (company, plugin) enablement so credentials never leak across
// tenants.
type Factory func(deps Deps) Plugin
