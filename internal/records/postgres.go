package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresDirectory implements Directory on PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgreSQL-backed directory and ensures its
// schema exists.
func NewPostgresDirectory(db *sql.DB) (*PostgresDirectory, error) {
	d := &PostgresDirectory{db: db}
	if err := d.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return d, nil
}

func (d *PostgresDirectory) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS internal_records (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_records_company_entity
		ON internal_records(company_id, entity);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *PostgresDirectory) Get(ctx context.Context, companyID, entity, id string) (*Record, error) {
	rec := &Record{}
	var dataJSON []byte

	err := d.db.QueryRowContext(ctx, `
		SELECT id, company_id, entity, data, created_at, updated_at
		FROM internal_records
		WHERE id = $1 AND company_id = $2 AND entity = $3
	`, id, companyID, entity).Scan(
		&rec.ID, &rec.CompanyID, &rec.Entity, &dataJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode record data: %w", err)
	}
	return rec, nil
}

func (d *PostgresDirectory) Candidates(ctx context.Context, companyID, entity string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, company_id, entity, data, created_at, updated_at
		FROM internal_records
		WHERE company_id = $1 AND entity = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`, companyID, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec := &Record{}
		var dataJSON []byte
		if err := rows.Scan(&rec.ID, &rec.CompanyID, &rec.Entity, &dataJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to decode record data: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (d *PostgresDirectory) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	now := time.Now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record data: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO internal_records (id, company_id, entity, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.CompanyID, rec.Entity, dataJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}
	return rec, nil
}

func (d *PostgresDirectory) Delete(ctx context.Context, companyID, entity, id string) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM internal_records
		WHERE id = $1 AND company_id = $2 AND entity = $3
	`, id, companyID, entity)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}
