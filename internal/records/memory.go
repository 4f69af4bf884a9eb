package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory Directory for tests and local development.
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by record id
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{records: make(map[string]*Record)}
}

func (d *MemoryDirectory) Get(ctx context.Context, companyID, entity, id string) (*Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok || rec.CompanyID != companyID || rec.Entity != entity {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (d *MemoryDirectory) Candidates(ctx context.Context, companyID, entity string, limit int) ([]*Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	var recs []*Record
	for _, rec := range d.records {
		if rec.CompanyID == companyID && rec.Entity == entity {
			recs = append(recs, cloneRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (d *MemoryDirectory) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	stored := cloneRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
		stored.CreatedAt = now
	} else if prev, ok := d.records[stored.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	}
	stored.UpdatedAt = now
	d.records[stored.ID] = stored
	return cloneRecord(stored), nil
}

func (d *MemoryDirectory) Delete(ctx context.Context, companyID, entity, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[id]; ok && rec.CompanyID == companyID && rec.Entity == entity {
		delete(d.records, id)
	}
	return nil
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Data = make(map[string]any, len(rec.Data))
	for k, v := range rec.Data {
		out.Data[k] = v
	}
	return &out
}
