package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Claiming uses a guarded
// UPDATE on status so multiple workers can poll the same table safely.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed queue store and ensures its
// schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		integration TEXT NOT NULL,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT 'to_omni',
		payload JSONB NOT NULL DEFAULT '{}',
		priority INT NOT NULL DEFAULT 5,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL DEFAULT 3,
		scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		error TEXT,
		processed_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_queue_next
		ON sync_queue(status, scheduled_for, priority DESC);
	CREATE INDEX IF NOT EXISTS idx_queue_company
		ON sync_queue(company_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue
			(id, company_id, integration, entity, action, direction, payload, priority, status, attempts, max_attempts, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, $9, $10, NOW())
	`, job.ID, job.CompanyID, job.Integration, job.Entity, job.Action, job.Direction,
		payloadJSON, job.Priority, job.MaxAttempts, job.ScheduledFor)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return job.ID, nil
}

const jobColumns = `id, company_id, integration, entity, action, direction, payload, priority, status,
	attempts, max_attempts, scheduled_for, COALESCE(error, ''), processed_at, completed_at, created_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM sync_queue WHERE id = $1
	`, id))
}

func (s *PostgresStore) NextPending(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM sync_queue
		WHERE status = 'pending' AND scheduled_for <= $1 AND attempts < max_attempts
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'processing', attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'completed', processed_at = NOW(), completed_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id, errMsg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', error = $2, scheduled_for = $3, processed_at = NOW()
		WHERE id = $1
	`, id, errMsg, at)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'failed', error = $2, processed_at = NOW(), completed_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'failed', error = 'cancelled by user', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) ResetFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', attempts = 0, error = NULL, scheduled_for = NOW(), completed_at = NULL
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) Stats(ctx context.Context, companyID string) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM sync_queue
		WHERE $1 = '' OR company_id = $1
	`, companyID).Scan(&stats.Total, &stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) ListByIntegration(ctx context.Context, integration string, status JobStatus, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM sync_queue
		WHERE integration = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, integration, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var payloadJSON []byte
	var processedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.CompanyID, &job.Integration, &job.Entity, &job.Action, &job.Direction,
		&payloadJSON, &job.Priority, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.ScheduledFor, &job.Error, &processedAt, &completedAt, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if processedAt.Valid {
		job.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
