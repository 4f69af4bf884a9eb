// Package store persists the sync platform's relational state: integration
// configs, entity id mappings, sync and webhook logs, and unresolved data
// conflicts. Every row is company scoped.
//
// Architecture:
//
//	ConfigStore   - per-company integration configuration
//	MappingStore  - internal id <-> external id links, idempotent upsert
//	LogStore      - append-only sync attempt log + aggregate stats
//	WebhookStore  - raw inbound webhooks with processing status
//	ConflictStore - conflicts awaiting manual review
//
// Each interface has a PostgreSQL implementation for production and an
// in-memory one for tests.
package store

import (
	"context"
	"time"

	"github.com/omniplat/sync-core/internal/core"
)

// EntityMapping links an internal record to its external counterpart in one
// integration. One row per (company, entity, internal id, integration).
type EntityMapping struct {
	ID          string           `json:"id"`
	CompanyID   string           `json:"companyId"`
	Entity      core.EntityType  `json:"entity"`
	InternalID  string           `json:"internalId"`
	ExternalID  string           `json:"externalId"`
	Integration string           `json:"integration"`
	MatchScore  float64          `json:"matchScore"`
	MatchMethod core.MatchMethod `json:"matchMethod"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// SyncLog is one sync attempt, recorded whether it succeeded or not.
type SyncLog struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"companyId"`
	Integration  string          `json:"integration"`
	Entity       core.EntityType `json:"entity"`
	Action       string          `json:"action"` // create | update | delete
	Direction    string          `json:"direction"`
	InternalID   string          `json:"internalId,omitempty"`
	ExternalID   string          `json:"externalId,omitempty"`
	Status       core.SyncStatus `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Duration     time.Duration   `json:"duration,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// WebhookStatus is the processing state of one received webhook.
type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookLog is one raw inbound webhook. The row is written before any
// processing so the payload survives a crash.
type WebhookLog struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"companyId"`
	Integration string         `json:"integration"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	Status      WebhookStatus  `json:"status"`
	Error       string         `json:"error,omitempty"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// SyncConflict is one data disagreement held for manual review.
type SyncConflict struct {
	ID           string                `json:"id"`
	CompanyID    string                `json:"companyId"`
	Integration  string                `json:"integration"`
	Entity       core.EntityType       `json:"entity"`
	EntityID     string                `json:"entityId"`
	ConflictType string                `json:"conflictType"`
	OmniData     map[string]any        `json:"omniData"`
	ExternalData map[string]any        `json:"externalData"`
	Strategy     core.ConflictStrategy `json:"strategy"`
	Resolved     bool                  `json:"resolved"`
	ResolvedBy   string                `json:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time            `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// LogFilters narrows a sync log query. Zero values are ignored.
type LogFilters struct {
	CompanyID   string
	Integration string
	Entity      core.EntityType
	Status      core.SyncStatus
	StartDate   time.Time
	EndDate     time.Time
	Limit       int
}

// SyncStats aggregates job outcomes for one company's integration.
type SyncStats struct {
	TotalJobs       int           `json:"totalJobs"`
	SuccessfulJobs  int           `json:"successfulJobs"`
	FailedJobs      int           `json:"failedJobs"`
	PendingJobs     int           `json:"pendingJobs"`
	AverageDuration time.Duration `json:"averageDuration"`
	LastSyncAt      *time.Time    `json:"lastSyncAt,omitempty"`
}

// ConfigStore persists per-company integration configuration.
type ConfigStore interface {
	// Get returns the config for (company, integration), nil when absent.
	Get(ctx context.Context, companyID, integration string) (*core.IntegrationConfig, error)

	// Save creates or replaces the config for its (company, integration).
	Save(ctx context.Context, config *core.IntegrationConfig) error

	// Delete removes the config for (company, integration).
	Delete(ctx context.Context, companyID, integration string) error

	// ListByCompany returns every config of one company.
	ListByCompany(ctx context.Context, companyID string) ([]*core.IntegrationConfig, error)

	// ListEnabled returns every enabled config of one integration across
	// companies, for scheduled syncs.
	ListEnabled(ctx context.Context, integration string) ([]*core.IntegrationConfig, error)

	// FindByConfigValue returns the config whose provider config carries the
	// given value under key, used to route inbound webhooks that identify
	// the tenant by a provider-side attribute (e.g. account domain).
	FindByConfigValue(ctx context.Context, integration, key, value string) (*core.IntegrationConfig, error)
}

// MappingStore persists internal/external id links.
type MappingStore interface {
	// Upsert writes the mapping keyed by (company, entity, internal id,
	// integration); an existing row gets the new external id, score and
	// method. Idempotent.
	Upsert(ctx context.Context, m *EntityMapping) error

	// GetByInternalID resolves the external id for an internal record.
	GetByInternalID(ctx context.Context, companyID string, entity core.EntityType, internalID, integration string) (*EntityMapping, error)

	// GetByExternalID resolves the internal id for an external record.
	GetByExternalID(ctx context.Context, companyID string, entity core.EntityType, externalID, integration string) (*EntityMapping, error)

	// ListByCompany returns every mapping of one company, newest first.
	ListByCompany(ctx context.Context, companyID string, entity core.EntityType, limit int) ([]*EntityMapping, error)

	// Delete removes one mapping by id within a company.
	Delete(ctx context.Context, companyID, id string) error
}

// LogStore appends and queries sync attempt logs.
type LogStore interface {
	// Append records one sync attempt.
	Append(ctx context.Context, entry *SyncLog) error

	// List returns log entries matching the filters, newest first.
	List(ctx context.Context, filters LogFilters) ([]*SyncLog, error)

	// Stats aggregates outcomes for (company, integration).
	Stats(ctx context.Context, companyID, integration string) (*SyncStats, error)
}

// WebhookStore persists raw inbound webhooks and their processing status.
type WebhookStore interface {
	// Record persists a freshly received webhook and returns its id.
	Record(ctx context.Context, entry *WebhookLog) (string, error)

	// UpdateStatus marks one webhook row processed or failed.
	UpdateStatus(ctx context.Context, id string, status WebhookStatus, processErr string) error

	// List returns webhooks for one company's integration, newest first.
	List(ctx context.Context, companyID, integration string, limit int) ([]*WebhookLog, error)
}

// ConflictStore persists conflicts awaiting manual review.
type ConflictStore interface {
	// Save persists a new unresolved conflict and returns its id.
	Save(ctx context.Context, c *SyncConflict) (string, error)

	// ListUnresolved returns open conflicts for a company, oldest first.
	ListUnresolved(ctx context.Context, companyID string, limit int) ([]*SyncConflict, error)

	// Get returns one conflict by id within a company, nil when absent.
	Get(ctx context.Context, companyID, id string) (*SyncConflict, error)

	// Resolve marks a conflict resolved by an operator.
	Resolve(ctx context.Context, companyID, id, resolvedBy string) error
}
