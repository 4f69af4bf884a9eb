// Package records is the boundary between plugins and the internal system of
// record. Plugins read candidate records for matching and write synced
// records through a Directory, never touching storage directly.
package records

import (
	"context"
	"time"
)

// Record is one internal business record, company scoped.
type Record struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"companyId"`
	Entity    string         `json:"entity"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DefaultCandidateLimit caps a candidate pool when the caller passes no
// limit. Matching never needs more than the most recently touched records.
const DefaultCandidateLimit = 100

// Directory exposes the internal record store to the sync machinery.
type Directory interface {
	// Get fetches one record by id within a company.
	Get(ctx context.Context, companyID, entity, id string) (*Record, error)

	// Candidates lists records of one entity kind for deduplication checks,
	// newest first. The pool is capped at limit, or DefaultCandidateLimit
	// when limit <= 0.
	Candidates(ctx context.Context, companyID, entity string, limit int) ([]*Record, error)

	// Upsert creates the record when its ID is empty and updates it
	// otherwise, returning the stored form with ids and timestamps set.
	Upsert(ctx context.Context, rec *Record) (*Record, error)

	// Delete removes one record by id within a company.
	Delete(ctx context.Context, companyID, entity, id string) error
}
