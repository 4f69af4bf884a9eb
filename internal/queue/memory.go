package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store on in-process maps, for tests and local
// development.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Status = JobPending
	stored.Attempts = 0
	stored.CreatedAt = time.Now()
	s.jobs[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (s *MemoryStore) NextPending(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.Status == JobPending && !job.ScheduledFor.After(now) && job.Attempts < job.MaxAttempts {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobPending {
		return false, nil
	}
	job.Status = JobProcessing
	job.Attempts++
	return true, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		now := time.Now()
		job.Status = JobCompleted
		job.ProcessedAt = &now
		job.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) Reschedule(ctx context.Context, id, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		now := time.Now()
		job.Status = JobPending
		job.Error = errMsg
		job.ScheduledFor = at
		job.ProcessedAt = &now
	}
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		now := time.Now()
		job.Status = JobFailed
		job.Error = errMsg
		job.ProcessedAt = &now
		job.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobPending {
		return false, nil
	}
	now := time.Now()
	job.Status = JobFailed
	job.Error = "cancelled by user"
	job.CompletedAt = &now
	return true, nil
}

func (s *MemoryStore) ResetFailed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobFailed {
		return false, nil
	}
	job.Status = JobPending
	job.Attempts = 0
	job.Error = ""
	job.ScheduledFor = time.Now()
	job.CompletedAt = nil
	return true, nil
}

func (s *MemoryStore) Stats(ctx context.Context, companyID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	for _, job := range s.jobs {
		if companyID != "" && job.CompanyID != companyID {
			continue
		}
		stats.Total++
		switch job.Status {
		case JobPending:
			stats.Pending++
		case JobProcessing:
			stats.Processing++
		case JobCompleted:
			stats.Completed++
		case JobFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if (job.Status == JobCompleted || job.Status == JobFailed) &&
			job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) ListByIntegration(ctx context.Context, integration string, status JobStatus, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.Integration == integration && (status == "" || job.Status == status) {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
