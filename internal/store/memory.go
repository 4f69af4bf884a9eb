package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omniplat/sync-core/internal/core"
)

// Memory bundles every store interface on in-process maps, for tests and
// local development.
type Memory struct {
	mu        sync.RWMutex
	configs   map[string]*core.IntegrationConfig // key: companyID/integration
	mappings  map[string]*EntityMapping          // key: companyID/entity/internalID/integration
	logs      []*SyncLog
	webhooks  map[string]*WebhookLog
	conflicts map[string]*SyncConflict
}

// NewMemory creates empty in-memory stores.
func NewMemory() *Memory {
	return &Memory{
		configs:   make(map[string]*core.IntegrationConfig),
		mappings:  make(map[string]*EntityMapping),
		webhooks:  make(map[string]*WebhookLog),
		conflicts: make(map[string]*SyncConflict),
	}
}

func configKey(companyID, integration string) string {
	return companyID + "/" + integration
}

func mappingKey(m *EntityMapping) string {
	return fmt.Sprintf("%s/%s/%s/%s", m.CompanyID, m.Entity, m.InternalID, m.Integration)
}

// --- ConfigStore ---

// MemoryConfigStore implements ConfigStore.
type MemoryConfigStore struct{ *Memory }

// Configs returns the ConfigStore view.
func (m *Memory) Configs() *MemoryConfigStore { return &MemoryConfigStore{m} }

func (s *MemoryConfigStore) Get(ctx context.Context, companyID, integration string) (*core.IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[configKey(companyID, integration)]
	if !ok {
		return nil, nil
	}
	out := *cfg
	return &out, nil
}

func (s *MemoryConfigStore) Save(ctx context.Context, config *core.IntegrationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *config
	now := time.Now()
	if prev, ok := s.configs[configKey(config.CompanyID, config.Integration)]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.configs[configKey(config.CompanyID, config.Integration)] = &stored
	return nil
}

func (s *MemoryConfigStore) Delete(ctx context.Context, companyID, integration string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, configKey(companyID, integration))
	return nil
}

func (s *MemoryConfigStore) ListByCompany(ctx context.Context, companyID string) ([]*core.IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.IntegrationConfig
	for _, cfg := range s.configs {
		if cfg.CompanyID == companyID {
			c := *cfg
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Integration < out[j].Integration })
	return out, nil
}

func (s *MemoryConfigStore) ListEnabled(ctx context.Context, integration string) ([]*core.IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.IntegrationConfig
	for _, cfg := range s.configs {
		if cfg.Integration == integration && cfg.Enabled {
			c := *cfg
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}

func (s *MemoryConfigStore) FindByConfigValue(ctx context.Context, integration, key, value string) (*core.IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cfg := range s.configs {
		if cfg.Integration != integration {
			continue
		}
		if v, ok := cfg.Config[key].(string); ok && v == value {
			c := *cfg
			return &c, nil
		}
	}
	return nil, nil
}

// --- MappingStore ---

// MemoryMappingStore implements MappingStore.
type MemoryMappingStore struct{ *Memory }

// Mappings returns the MappingStore view.
func (m *Memory) Mappings() *MemoryMappingStore { return &MemoryMappingStore{m} }

func (s *MemoryMappingStore) Upsert(ctx context.Context, m *EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := mappingKey(m)
	if prev, ok := s.mappings[key]; ok {
		prev.ExternalID = m.ExternalID
		prev.MatchScore = m.MatchScore
		prev.MatchMethod = m.MatchMethod
		prev.UpdatedAt = now
		return nil
	}

	stored := *m
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.mappings[key] = &stored
	return nil
}

func (s *MemoryMappingStore) GetByInternalID(ctx context.Context, companyID string, entity core.EntityType, internalID, integration string) (*EntityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingKey(&EntityMapping{
		CompanyID: companyID, Entity: entity, InternalID: internalID, Integration: integration,
	})]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (s *MemoryMappingStore) GetByExternalID(ctx context.Context, companyID string, entity core.EntityType, externalID, integration string) (*EntityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mappings {
		if m.CompanyID == companyID && m.Entity == entity && m.ExternalID == externalID && m.Integration == integration {
			out := *m
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryMappingStore) ListByCompany(ctx context.Context, companyID string, entity core.EntityType, limit int) ([]*EntityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EntityMapping
	for _, m := range s.mappings {
		if m.CompanyID == companyID && (entity == "" || m.Entity == entity) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMappingStore) Delete(ctx context.Context, companyID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, m := range s.mappings {
		if m.ID == id && m.CompanyID == companyID {
			delete(s.mappings, key)
			return nil
		}
	}
	return nil
}

// --- LogStore ---

// MemoryLogStore implements LogStore.
type MemoryLogStore struct{ *Memory }

// Logs returns the LogStore view.
func (m *Memory) Logs() *MemoryLogStore { return &MemoryLogStore{m} }

func (s *MemoryLogStore) Append(ctx context.Context, entry *SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, &stored)
	return nil
}

func (s *MemoryLogStore) List(ctx context.Context, filters LogFilters) ([]*SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SyncLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if filters.CompanyID != "" && entry.CompanyID != filters.CompanyID {
			continue
		}
		if filters.Integration != "" && entry.Integration != filters.Integration {
			continue
		}
		if filters.Entity != "" && entry.Entity != filters.Entity {
			continue
		}
		if filters.Status != "" && entry.Status != filters.Status {
			continue
		}
		if !filters.StartDate.IsZero() && entry.CreatedAt.Before(filters.StartDate) {
			continue
		}
		if !filters.EndDate.IsZero() && entry.CreatedAt.After(filters.EndDate) {
			continue
		}
		c := *entry
		out = append(out, &c)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryLogStore) Stats(ctx context.Context, companyID, integration string) (*SyncStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &SyncStats{}
	var totalDuration time.Duration
	for _, entry := range s.logs {
		if entry.CompanyID != companyID || entry.Integration != integration {
			continue
		}
		stats.TotalJobs++
		totalDuration += entry.Duration
		switch entry.Status {
		case core.StatusSuccess:
			stats.SuccessfulJobs++
			if stats.LastSyncAt == nil || entry.CreatedAt.After(*stats.LastSyncAt) {
				t := entry.CreatedAt
				stats.LastSyncAt = &t
			}
		case core.StatusFailed:
			stats.FailedJobs++
		case core.StatusPending, core.StatusProcessing:
			stats.PendingJobs++
		}
	}
	if stats.TotalJobs > 0 {
		stats.AverageDuration = totalDuration / time.Duration(stats.TotalJobs)
	}
	return stats, nil
}

// --- WebhookStore ---

// MemoryWebhookStore implements WebhookStore.
type MemoryWebhookStore struct{ *Memory }

// Webhooks returns the WebhookStore view.
func (m *Memory) Webhooks() *MemoryWebhookStore { return &MemoryWebhookStore{m} }

func (s *MemoryWebhookStore) Record(ctx context.Context, entry *WebhookLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = WebhookReceived
	}
	stored.CreatedAt = time.Now()
	s.webhooks[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryWebhookStore) UpdateStatus(ctx context.Context, id string, status WebhookStatus, processErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.webhooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	now := time.Now()
	entry.Status = status
	entry.Error = processErr
	entry.ProcessedAt = &now
	return nil
}

func (s *MemoryWebhookStore) List(ctx context.Context, companyID, integration string, limit int) ([]*WebhookLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*WebhookLog
	for _, entry := range s.webhooks {
		if entry.CompanyID == companyID && (integration == "" || entry.Integration == integration) {
			c := *entry
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- ConflictStore ---

// MemoryConflictStore implements ConflictStore.
type MemoryConflictStore struct{ *Memory }

// Conflicts returns the ConflictStore view.
func (m *Memory) Conflicts() *MemoryConflictStore { return &MemoryConflictStore{m} }

func (s *MemoryConflictStore) Save(ctx context.Context, c *SyncConflict) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Resolved = false
	stored.CreatedAt = time.Now()
	s.conflicts[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryConflictStore) ListUnresolved(ctx context.Context, companyID string, limit int) ([]*SyncConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SyncConflict
	for _, c := range s.conflicts {
		if c.CompanyID == companyID && !c.Resolved {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryConflictStore) Get(ctx context.Context, companyID, id string) (*SyncConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conflicts[id]
	if !ok || c.CompanyID != companyID {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *MemoryConflictStore) Resolve(ctx context.Context, companyID, id, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok || c.CompanyID != companyID || c.Resolved {
		return fmt.Errorf("conflict %s not found or already resolved", id)
	}
	now := time.Now()
	c.Resolved = true
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	return nil
}
