// Package queue implements the durable sync job queue: priority ordering,
// scheduled execution, bounded retries with backoff, and a polling worker
// pool. Jobs survive process restarts because state lives in the store.
//
// Job lifecycle:
//
//	pending -> processing -> completed
//	                      -> pending   (failed, retries left; rescheduled)
//	                      -> failed    (failed, retries exhausted)
//
// Cancellation applies to pending jobs only; a failed job can be requeued
// with its attempt counter reset.
package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/core"
)

// JobStatus is the queue lifecycle state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of sync work.
type Job struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"companyId"`
	Integration  string          `json:"integration"`
	Entity       core.EntityType `json:"entity"`
	Action       string          `json:"action"` // create | update | delete
	Direction    string          `json:"direction"`
	Payload      map[string]any  `json:"payload"`
	Priority     int             `json:"priority"`
	Status       JobStatus       `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"maxAttempts"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	Error        string          `json:"error,omitempty"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Backoff selects the retry delay curve.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds retries and spaces them out.
type RetryPolicy struct {
	MaxAttempts  int           `json:"maxAttempts"`
	Backoff      Backoff       `json:"backoff"`
	InitialDelay time.Duration `json:"initialDelay"`
	MaxDelay     time.Duration `json:"maxDelay"`
}

// DefaultRetryPolicy is three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
	}
}

// NextRetryDelay computes the wait before the given retry. attempts is the
// number of attempts already made. Exponential doubles per attempt
// (2^attempts x initial), linear grows by initial per attempt; both are
// capped at MaxDelay when set.
func (p RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	var delay time.Duration
	if p.Backoff == BackoffExponential {
		delay = time.Duration(1<<uint(attempts)) * p.InitialDelay
	} else {
		delay = time.Duration(attempts) * p.InitialDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Stats summarizes queue depth by status.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Store is the persistence boundary of the queue. Implementations must make
// NextPending claim-free: ordering and filtering only, the Queue drives
// state transitions.
type Store interface {
	// Create persists a new job and returns its id.
	Create(ctx context.Context, job *Job) (string, error)

	// Get returns one job by id, nil when absent.
	Get(ctx context.Context, id string) (*Job, error)

	// NextPending returns due pending jobs with attempts left, ordered by
	// priority descending then scheduled time ascending.
	NextPending(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// MarkProcessing transitions a pending job to processing and counts
	// the attempt. Returns false when the job was not pending, so
	// concurrent workers cannot double-claim.
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// MarkCompleted finishes a job successfully.
	MarkCompleted(ctx context.Context, id string) error

	// Reschedule returns a failed attempt to pending for a later retry.
	Reschedule(ctx context.Context, id, errMsg string, at time.Time) error

	// MarkFailed finishes a job permanently.
	MarkFailed(ctx context.Context, id, errMsg string) error

	// CancelPending cancels a job only while it is still pending.
	CancelPending(ctx context.Context, id string) (bool, error)

	// ResetFailed returns a permanently failed job to pending with its
	// attempt counter cleared.
	ResetFailed(ctx context.Context, id string) (bool, error)

	// Stats counts jobs by status, company-scoped when companyID is set.
	Stats(ctx context.Context, companyID string) (*Stats, error)

	// DeleteFinishedBefore removes completed/failed jobs finished before
	// the cutoff, returning how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ListByIntegration returns jobs of one integration, newest first,
	// optionally filtered by status.
	ListByIntegration(ctx context.Context, integration string, status JobStatus, limit int) ([]*Job, error)
}

// Queue layers retry policy and logging over a Store.
type Queue struct {
	store  Store
	policy RetryPolicy
	logger *logrus.Logger
}

// New creates a queue; a zero-valued policy gets defaults.
func New(store Store, policy RetryPolicy, logger *logrus.Logger) *Queue {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{store: store, policy: policy, logger: logger}
}

// Policy returns the queue's retry policy.
func (q *Queue) Policy() RetryPolicy { return q.policy }

// Enqueue adds a job. Priority defaults to 5, the schedule to now, and the
// attempt budget to the queue policy.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job.Priority == 0 {
		job.Priority = 5
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = time.Now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.policy.MaxAttempts
	}
	job.Status = JobPending
	job.Attempts = 0

	id, err := q.store.Create(ctx, job)
	if err != nil {
		return "", err
	}
	q.logger.WithFields(logrus.Fields{
		"job_id":      id,
		"integration": job.Integration,
		"entity":      job.Entity,
		"action":      job.Action,
		"priority":    job.Priority,
	}).Info("job enqueued")
	return id, nil
}

// EnqueueBatch adds several jobs, returning their ids in order.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*Job) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := q.Enqueue(ctx, job)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NextJobs returns due jobs in execution order.
func (q *Queue) NextJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 10
	}
	return q.store.NextPending(ctx, time.Now(), limit)
}

// Claim transitions a job to processing, counting the attempt. Returns
// false when another worker got there first.
func (q *Queue) Claim(ctx context.Context, id string) (bool, error) {
	return q.store.MarkProcessing(ctx, id)
}

// Complete finishes a job successfully.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := q.store.MarkCompleted(ctx, id); err != nil {
		return err
	}
	q.logger.WithField("job_id", id).Info("job completed")
	return nil
}

// Fail records a failed attempt: the job is rescheduled with backoff while
// attempts remain, and finished as failed once the budget is spent.
func (q *Queue) Fail(ctx context.Context, id, errMsg string) error {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	if job.Attempts < job.MaxAttempts {
		at := time.Now().Add(q.policy.NextRetryDelay(job.Attempts))
		if err := q.store.Reschedule(ctx, id, errMsg, at); err != nil {
			return err
		}
		q.logger.WithFields(logrus.Fields{
			"job_id":   id,
			"attempt":  job.Attempts,
			"max":      job.MaxAttempts,
			"retry_at": at,
		}).Warn("job failed, retry scheduled")
		return nil
	}

	if err := q.store.MarkFailed(ctx, id, errMsg); err != nil {
		return err
	}
	q.logger.WithFields(logrus.Fields{
		"job_id": id,
		"error":  errMsg,
	}).Error("job permanently failed")
	return nil
}

// Cancel cancels a pending job; processing, completed and failed jobs are
// left alone.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	return q.store.CancelPending(ctx, id)
}

// RetryFailed requeues a permanently failed job for immediate execution
// with a fresh attempt budget.
func (q *Queue) RetryFailed(ctx context.Context, id string) (bool, error) {
	return q.store.ResetFailed(ctx, id)
}

// Stats summarizes queue depth, optionally for one company.
func (q *Queue) Stats(ctx context.Context, companyID string) (*Stats, error) {
	return q.store.Stats(ctx, companyID)
}

// CleanOldJobs removes completed and failed jobs finished more than
// olderThan ago.
func (q *Queue) CleanOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.DeleteFinishedBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.WithField("removed", n).Info("cleaned old jobs")
	}
	return n, nil
}

// JobsByIntegration returns jobs of one integration, newest first.
func (q *Queue) JobsByIntegration(ctx context.Context, integration string, status JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.store.ListByIntegration(ctx, integration, status, limit)
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}
