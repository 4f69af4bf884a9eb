package core

import "time"

// EntityType identifies a business object kind the engine can synchronize.
type EntityType string

const (
	EntityContact     EntityType = "contact"
	EntityDeal        EntityType = "deal"
	EntityAppointment EntityType = "appointment"
	EntityProduct     EntityType = "product"
	EntityInvoice     EntityType = "invoice"
)

// AllEntityTypes lists every entity kind the engine knows about.
var AllEntityTypes = []EntityType{
	EntityContact,
	EntityDeal,
	EntityAppointment,
	EntityProduct,
	EntityInvoice,
}

// Valid reports whether e is one of the known entity kinds.
func (e EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if e == known {
			return true
		}
	}
	return false
}

// SyncDirection tells which way a sync flows.
type SyncDirection string

const (
	DirectionToOmni        SyncDirection = "to_omni"
	DirectionFromOmni      SyncDirection = "from_omni"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncStatus is the lifecycle status of one sync attempt.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusProcessing SyncStatus = "processing"
	StatusSuccess    SyncStatus = "success"
	StatusFailed     SyncStatus = "failed"
	StatusSkipped    SyncStatus = "skipped"
	StatusConflict   SyncStatus = "conflict"
)

// ConflictStrategy selects how disagreeing internal/external versions of an
// entity are reconciled.
type ConflictStrategy string

const (
	NewestWins   ConflictStrategy = "newest_wins"
	OmniWins     ConflictStrategy = "omni_wins"
	ExternalWins ConflictStrategy = "external_wins"
	Merge        ConflictStrategy = "merge"
	Manual       ConflictStrategy = "manual"
)

// MatchMethod records which identity signal linked an internal record to an
// external one.
type MatchMethod string

const (
	MatchExactEmail MatchMethod = "exact_email"
	MatchTaxID      MatchMethod = "tax_id"
	MatchPhone      MatchMethod = "phone"
	MatchFuzzyName  MatchMethod = "fuzzy_name"
	MatchManual     MatchMethod = "manual"
	// MatchOutbound marks a mapping written after an outbound create, where
	// the two ids were linked explicitly rather than matched.
	MatchOutbound MatchMethod = "outbound"
)

// RateLimitConfig bounds plugin request throughput against an external API.
type RateLimitConfig struct {
	MaxRequests int `json:"maxRequests"`
	WindowMs    int `json:"windowMs"`
}

// SyncSettings are per-tenant synchronization preferences.
type SyncSettings struct {
	Entities         []EntityType     `json:"entities"`
	Direction        SyncDirection    `json:"direction"`
	ConflictStrategy ConflictStrategy `json:"conflictStrategy"`
	AutoSync         bool             `json:"autoSync"`
	SyncIntervalMins int              `json:"syncInterval,omitempty"`
	BatchSize        int              `json:"batchSize,omitempty"`
	RateLimit        *RateLimitConfig `json:"rateLimit,omitempty"`
}

// IntegrationConfig is the stored configuration of one integration for one
// company. Config holds provider-specific settings (credentials, endpoints)
// as an opaque map; plugins validate the keys they need.
type IntegrationConfig struct {
	CompanyID    string         `json:"companyId"`
	Integration  string         `json:"integration"`
	Enabled      bool           `json:"enabled"`
	Config       map[string]any `json:"config"`
	SyncSettings *SyncSettings  `json:"syncSettings,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// EntityMetadata carries provenance for a canonical record.
type EntityMetadata struct {
	Source       string     `json:"source"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Version      int        `json:"version,omitempty"`
}

// EntityData is the canonical entity shape exchanged between the engine,
// the deduplication/conflict components, and plugins. Plugins own the
// translation between this shape and vendor payloads.
type EntityData struct {
	ID       string          `json:"id,omitempty"`
	Type     EntityType      `json:"type"`
	Data     map[string]any  `json:"data"`
	Metadata *EntityMetadata `json:"metadata,omitempty"`
}

// WebhookPayload is an inbound webhook after minimal decoding.
type WebhookPayload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

// SyncContext travels with one sync invocation into the plugin.
type SyncContext struct {
	CompanyID   string
	Integration string
	Config      *IntegrationConfig
	Direction   SyncDirection
	DryRun      bool

	// InternalID is set by the engine when deduplication already resolved
	// the inbound record to an existing internal id; plugins must update
	// that record instead of creating a new one.
	InternalID string

	// Resolved carries reconciled canonical data when the engine already
	// ran conflict resolution; plugins apply it verbatim instead of
	// mapping the raw payload.
	Resolved map[string]any
}

// SyncResult is the structured outcome of one sync attempt.
type SyncResult struct {
	Success    bool           `json:"success"`
	Status     SyncStatus     `json:"status"`
	InternalID string         `json:"internalId,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Error      *SyncError     `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SuccessResult builds a successful SyncResult linking the two ids.
func SuccessResult(internalID, externalID string) *SyncResult {
	return &SyncResult{
		Success:    true,
		Status:     StatusSuccess,
		InternalID: internalID,
		ExternalID: externalID,
	}
}

// FailureResult builds a failed SyncResult carrying a coded error.
func FailureResult(err *SyncError) *SyncResult {
	return &SyncResult{
		Success: false,
		Status:  StatusFailed,
		Error:   err,
	}
}
