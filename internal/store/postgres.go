package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/omniplat/sync-core/internal/core"
)

// Postgres bundles every store interface on one PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates the PostgreSQL-backed stores and ensures their schema
// exists.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS integration_configs (
		company_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		config JSONB NOT NULL DEFAULT '{}',
		sync_settings JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (company_id, integration)
	);

	CREATE TABLE IF NOT EXISTS entity_mappings (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		internal_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		match_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		match_method TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (company_id, entity, internal_id, integration)
	);

	CREATE INDEX IF NOT EXISTS idx_mappings_external
		ON entity_mappings(company_id, entity, external_id, integration);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL,
		internal_id TEXT,
		external_id TEXT,
		status TEXT NOT NULL,
		error_message TEXT,
		duration_ms BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sync_logs_company
		ON sync_logs(company_id, integration, created_at DESC);

	CREATE TABLE IF NOT EXISTS webhook_logs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		event TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		error TEXT,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_logs_company
		ON webhook_logs(company_id, integration, created_at DESC);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		conflict_type TEXT NOT NULL,
		omni_data JSONB NOT NULL DEFAULT '{}',
		external_data JSONB NOT NULL DEFAULT '{}',
		strategy TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by TEXT,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_conflicts_open
		ON sync_conflicts(company_id, resolved, created_at);
	`
	_, err := p.db.Exec(schema)
	return err
}

// --- ConfigStore ---

// PostgresConfigStore implements ConfigStore.
type PostgresConfigStore struct{ *Postgres }

// Configs returns the ConfigStore view.
func (p *Postgres) Configs() *PostgresConfigStore { return &PostgresConfigStore{p} }

func (s *PostgresConfigStore) Get(ctx context.Context, companyID, integration string) (*core.IntegrationConfig, error) {
	return s.scanConfig(s.db.QueryRowContext(ctx, `
		SELECT company_id, integration, enabled, config, sync_settings, created_at, updated_at
		FROM integration_configs
		WHERE company_id = $1 AND integration = $2
	`, companyID, integration))
}

func (s *PostgresConfigStore) Save(ctx context.Context, config *core.IntegrationConfig) error {
	cfgJSON, err := json.Marshal(config.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var settingsJSON []byte
	if config.SyncSettings != nil {
		settingsJSON, err = json.Marshal(config.SyncSettings)
		if err != nil {
			return fmt.Errorf("failed to marshal sync settings: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_configs (company_id, integration, enabled, config, sync_settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (company_id, integration) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			sync_settings = EXCLUDED.sync_settings,
			updated_at = NOW()
	`, config.CompanyID, config.Integration, config.Enabled, cfgJSON, nullBytes(settingsJSON))
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (s *PostgresConfigStore) Delete(ctx context.Context, companyID, integration string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM integration_configs WHERE company_id = $1 AND integration = $2
	`, companyID, integration)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}

func (s *PostgresConfigStore) ListByCompany(ctx context.Context, companyID string) ([]*core.IntegrationConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, integration, enabled, config, sync_settings, created_at, updated_at
		FROM integration_configs
		WHERE company_id = $1
		ORDER BY integration
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()
	return s.collectConfigs(rows)
}

func (s *PostgresConfigStore) ListEnabled(ctx context.Context, integration string) ([]*core.IntegrationConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, integration, enabled, config, sync_settings, created_at, updated_at
		FROM integration_configs
		WHERE integration = $1 AND enabled = TRUE
		ORDER BY company_id
	`, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled configs: %w", err)
	}
	defer rows.Close()
	return s.collectConfigs(rows)
}

func (s *PostgresConfigStore) FindByConfigValue(ctx context.Context, integration, key, value string) (*core.IntegrationConfig, error) {
	return s.scanConfig(s.db.QueryRowContext(ctx, `
		SELECT company_id, integration, enabled, config, sync_settings, created_at, updated_at
		FROM integration_configs
		WHERE integration = $1 AND config->>$2 = $3
		LIMIT 1
	`, integration, key, value))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresConfigStore) scanConfig(row rowScanner) (*core.IntegrationConfig, error) {
	cfg := &core.IntegrationConfig{}
	var cfgJSON, settingsJSON []byte

	err := row.Scan(&cfg.CompanyID, &cfg.Integration, &cfg.Enabled, &cfgJSON, &settingsJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(settingsJSON) > 0 {
		cfg.SyncSettings = &core.SyncSettings{}
		if err := json.Unmarshal(settingsJSON, cfg.SyncSettings); err != nil {
			return nil, fmt.Errorf("failed to decode sync settings: %w", err)
		}
	}
	return cfg, nil
}

func (s *PostgresConfigStore) collectConfigs(rows *sql.Rows) ([]*core.IntegrationConfig, error) {
	var out []*core.IntegrationConfig
	for rows.Next() {
		cfg, err := s.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// --- MappingStore ---

// PostgresMappingStore implements MappingStore.
type PostgresMappingStore struct{ *Postgres }

// Mappings returns the MappingStore view.
func (p *Postgres) Mappings() *PostgresMappingStore { return &PostgresMappingStore{p} }

func (s *PostgresMappingStore) Upsert(ctx context.Context, m *EntityMapping) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mappings
			(id, company_id, entity, internal_id, external_id, integration, match_score, match_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (company_id, entity, internal_id, integration) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			match_score = EXCLUDED.match_score,
			match_method = EXCLUDED.match_method,
			updated_at = NOW()
	`, m.ID, m.CompanyID, m.Entity, m.InternalID, m.ExternalID, m.Integration, m.MatchScore, m.MatchMethod)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

const mappingColumns = `id, company_id, entity, internal_id, external_id, integration, match_score, match_method, created_at, updated_at`

func (s *PostgresMappingStore) GetByInternalID(ctx context.Context, companyID string, entity core.EntityType, internalID, integration string) (*EntityMapping, error) {
	return scanMapping(s.db.QueryRowContext(ctx, `
		SELECT `+mappingColumns+` FROM entity_mappings
		WHERE company_id = $1 AND entity = $2 AND internal_id = $3 AND integration = $4
	`, companyID, entity, internalID, integration))
}

func (s *PostgresMappingStore) GetByExternalID(ctx context.Context, companyID string, entity core.EntityType, externalID, integration string) (*EntityMapping, error) {
	return scanMapping(s.db.QueryRowContext(ctx, `
		SELECT `+mappingColumns+` FROM entity_mappings
		WHERE company_id = $1 AND entity = $2 AND external_id = $3 AND integration = $4
	`, companyID, entity, externalID, integration))
}

func (s *PostgresMappingStore) ListByCompany(ctx context.Context, companyID string, entity core.EntityType, limit int) ([]*EntityMapping, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+` FROM entity_mappings
		WHERE company_id = $1 AND ($2 = '' OR entity = $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`, companyID, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var out []*EntityMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresMappingStore) Delete(ctx context.Context, companyID, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM entity_mappings WHERE id = $1 AND company_id = $2
	`, id, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

func scanMapping(row rowScanner) (*EntityMapping, error) {
	m := &EntityMapping{}
	err := row.Scan(&m.ID, &m.CompanyID, &m.Entity, &m.InternalID, &m.ExternalID,
		&m.Integration, &m.MatchScore, &m.MatchMethod, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}
	return m, nil
}

// --- LogStore ---

// PostgresLogStore implements LogStore.
type PostgresLogStore struct{ *Postgres }

// Logs returns the LogStore view.
func (p *Postgres) Logs() *PostgresLogStore { return &PostgresLogStore{p} }

func (s *PostgresLogStore) Append(ctx context.Context, entry *SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs
			(id, company_id, integration, entity, action, direction, internal_id, external_id, status, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, entry.ID, entry.CompanyID, entry.Integration, entry.Entity, entry.Action, entry.Direction,
		nullString(entry.InternalID), nullString(entry.ExternalID), entry.Status,
		nullString(entry.ErrorMessage), entry.Duration.Milliseconds(), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

func (s *PostgresLogStore) List(ctx context.Context, filters LogFilters) ([]*SyncLog, error) {
	query := `
		SELECT id, company_id, integration, entity, action, direction,
			COALESCE(internal_id, ''), COALESCE(external_id, ''), status,
			COALESCE(error_message, ''), COALESCE(duration_ms, 0), created_at
		FROM sync_logs WHERE 1=1`
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if filters.CompanyID != "" {
		add("company_id =", filters.CompanyID)
	}
	if filters.Integration != "" {
		add("integration =", filters.Integration)
	}
	if filters.Entity != "" {
		add("entity =", filters.Entity)
	}
	if filters.Status != "" {
		add("status =", filters.Status)
	}
	if !filters.StartDate.IsZero() {
		add("created_at >=", filters.StartDate)
	}
	if !filters.EndDate.IsZero() {
		add("created_at <=", filters.EndDate)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var out []*SyncLog
	for rows.Next() {
		entry := &SyncLog{}
		var durationMs int64
		if err := rows.Scan(&entry.ID, &entry.CompanyID, &entry.Integration, &entry.Entity,
			&entry.Action, &entry.Direction, &entry.InternalID, &entry.ExternalID,
			&entry.Status, &entry.ErrorMessage, &durationMs, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresLogStore) Stats(ctx context.Context, companyID, integration string) (*SyncStats, error) {
	stats := &SyncStats{}
	var avgMs sql.NullFloat64
	var last sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
			AVG(duration_ms),
			MAX(created_at) FILTER (WHERE status = 'success')
		FROM sync_logs
		WHERE company_id = $1 AND integration = $2
	`, companyID, integration).Scan(
		&stats.TotalJobs, &stats.SuccessfulJobs, &stats.FailedJobs, &stats.PendingJobs, &avgMs, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	if avgMs.Valid {
		stats.AverageDuration = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}
	if last.Valid {
		stats.LastSyncAt = &last.Time
	}
	return stats, nil
}

// --- WebhookStore ---

// PostgresWebhookStore implements WebhookStore.
type PostgresWebhookStore struct{ *Postgres }

// Webhooks returns the WebhookStore view.
func (p *Postgres) Webhooks() *PostgresWebhookStore { return &PostgresWebhookStore{p} }

func (s *PostgresWebhookStore) Record(ctx context.Context, entry *WebhookLog) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = WebhookReceived
	}
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, company_id, integration, event, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, entry.ID, entry.CompanyID, entry.Integration, entry.Event, payloadJSON, entry.Status)
	if err != nil {
		return "", fmt.Errorf("failed to record webhook: %w", err)
	}
	return entry.ID, nil
}

func (s *PostgresWebhookStore) UpdateStatus(ctx context.Context, id string, status WebhookStatus, processErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_logs
		SET status = $2, error = NULLIF($3, ''), processed_at = NOW()
		WHERE id = $1
	`, id, status, processErr)
	if err != nil {
		return fmt.Errorf("failed to update webhook status: %w", err)
	}
	return nil
}

func (s *PostgresWebhookStore) List(ctx context.Context, companyID, integration string, limit int) ([]*WebhookLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, integration, event, payload, status, COALESCE(error, ''), processed_at, created_at
		FROM webhook_logs
		WHERE company_id = $1 AND ($2 = '' OR integration = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, companyID, integration, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var out []*WebhookLog
	for rows.Next() {
		entry := &WebhookLog{}
		var payloadJSON []byte
		var processedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.CompanyID, &entry.Integration, &entry.Event,
			&payloadJSON, &entry.Status, &entry.Error, &processedAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
		}
		if processedAt.Valid {
			entry.ProcessedAt = &processedAt.Time
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// --- ConflictStore ---

// PostgresConflictStore implements ConflictStore.
type PostgresConflictStore struct{ *Postgres }

// Conflicts returns the ConflictStore view.
func (p *Postgres) Conflicts() *PostgresConflictStore { return &PostgresConflictStore{p} }

func (s *PostgresConflictStore) Save(ctx context.Context, c *SyncConflict) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	omniJSON, err := json.Marshal(c.OmniData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal internal data: %w", err)
	}
	externalJSON, err := json.Marshal(c.ExternalData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal external data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts
			(id, company_id, integration, entity, entity_id, conflict_type, omni_data, external_data, strategy, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW())
	`, c.ID, c.CompanyID, c.Integration, c.Entity, c.EntityID, c.ConflictType, omniJSON, externalJSON, c.Strategy)
	if err != nil {
		return "", fmt.Errorf("failed to save conflict: %w", err)
	}
	return c.ID, nil
}

const conflictColumns = `id, company_id, integration, entity, entity_id, conflict_type, omni_data, external_data, strategy, resolved, COALESCE(resolved_by, ''), resolved_at, created_at`

func (s *PostgresConflictStore) ListUnresolved(ctx context.Context, companyID string, limit int) ([]*SyncConflict, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE company_id = $1 AND resolved = FALSE
		ORDER BY created_at ASC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresConflictStore) Get(ctx context.Context, companyID, id string) (*SyncConflict, error) {
	return scanConflict(s.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE id = $1 AND company_id = $2
	`, id, companyID))
}

func (s *PostgresConflictStore) Resolve(ctx context.Context, companyID, id, resolvedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET resolved = TRUE, resolved_by = $3, resolved_at = NOW()
		WHERE id = $1 AND company_id = $2 AND resolved = FALSE
	`, id, companyID, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("conflict %s not found or already resolved", id)
	}
	return nil
}

func scanConflict(row rowScanner) (*SyncConflict, error) {
	c := &SyncConflict{}
	var omniJSON, externalJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(&c.ID, &c.CompanyID, &c.Integration, &c.Entity, &c.EntityID, &c.ConflictType,
		&omniJSON, &externalJSON, &c.Strategy, &c.Resolved, &c.ResolvedBy, &resolvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}
	if err := json.Unmarshal(omniJSON, &c.OmniData); err != nil {
		return nil, fmt.Errorf("failed to decode internal data: %w", err)
	}
	if err := json.Unmarshal(externalJSON, &c.ExternalData); err != nil {
		return nil, fmt.Errorf("failed to decode external data: %w", err)
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
