package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniplat/sync-core/internal/core"
)

func newTestQueue(policy RetryPolicy) *Queue {
	return New(NewMemoryStore(), policy, nil)
}

func contactJob(companyID string, priority int) *Job {
	return &Job{
		CompanyID:   companyID,
		Integration: "rdstation",
		Entity:      core.EntityContact,
		Action:      "create",
		Direction:   "to_omni",
		Payload:     map[string]any{"email": "a@b.c"},
		Priority:    priority,
	}
}

func TestPriorityThenScheduleOrdering(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{})

	early := contactJob("c1", 5)
	early.ScheduledFor = time.Now().Add(-2 * time.Hour)
	late := contactJob("c1", 5)
	late.ScheduledFor = time.Now().Add(-1 * time.Hour)
	urgent := contactJob("c1", 9)
	urgent.ScheduledFor = time.Now().Add(-time.Minute)

	lateID, _ := q.Enqueue(ctx, late)
	urgentID, _ := q.Enqueue(ctx, urgent)
	earlyID, _ := q.Enqueue(ctx, early)

	jobs, err := q.NextJobs(ctx, 10)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	got := []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}
	want := []string{urgentID, earlyID, lateID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestFutureJobsNotDue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{})

	job := contactJob("c1", 5)
	job.ScheduledFor = time.Now().Add(time.Hour)
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, _ := q.NextJobs(ctx, 10)
	if len(jobs) != 0 {
		t.Fatalf("future job returned as due: %+v", jobs)
	}
}

func TestFailureRetriesThenExhausts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	})

	id, _ := q.Enqueue(ctx, contactJob("c1", 5))

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.Claim(ctx, id)
		if err != nil || !claimed {
			t.Fatalf("claim attempt %d: claimed=%v err=%v", attempt, claimed, err)
		}
		if err := q.Fail(ctx, id, "external API down"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}

		job, _ := q.Get(ctx, id)
		if attempt < 3 {
			if job.Status != JobPending {
				t.Fatalf("after attempt %d status = %s, want pending", attempt, job.Status)
			}
			// Let the backoff elapse so the next claim finds it due.
			time.Sleep(15 * time.Millisecond)
		} else {
			if job.Status != JobFailed {
				t.Fatalf("after final attempt status = %s, want failed", job.Status)
			}
			if job.Error != "external API down" {
				t.Fatalf("error = %q", job.Error)
			}
		}
	}

	// Terminal: no more claims.
	if claimed, _ := q.Claim(ctx, id); claimed {
		t.Fatal("exhausted job must not be claimable")
	}
}

func TestBackoffCurves(t *testing.T) {
	exp := RetryPolicy{MaxAttempts: 5, Backoff: BackoffExponential, InitialDelay: time.Second, MaxDelay: 10 * time.Second}
	if d := exp.NextRetryDelay(1); d != 2*time.Second {
		t.Errorf("exp attempt 1 = %v, want 2s", d)
	}
	if d := exp.NextRetryDelay(3); d != 8*time.Second {
		t.Errorf("exp attempt 3 = %v, want 8s", d)
	}
	if d := exp.NextRetryDelay(6); d != 10*time.Second {
		t.Errorf("exp attempt 6 = %v, want cap 10s", d)
	}

	lin := RetryPolicy{MaxAttempts: 5, Backoff: BackoffLinear, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
	if d := lin.NextRetryDelay(2); d != 2*time.Second {
		t.Errorf("lin attempt 2 = %v, want 2s", d)
	}
	if d := lin.NextRetryDelay(5); d != 3*time.Second {
		t.Errorf("lin attempt 5 = %v, want cap 3s", d)
	}

	// Monotone until the cap.
	prev := time.Duration(0)
	for i := 1; i <= 6; i++ {
		d := exp.NextRetryDelay(i)
		if d < prev {
			t.Fatalf("backoff not monotone at attempt %d: %v < %v", i, d, prev)
		}
		prev = d
	}
}

func TestCancelOnlyPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{})

	id, _ := q.Enqueue(ctx, contactJob("c1", 5))
	ok, err := q.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel pending: ok=%v err=%v", ok, err)
	}
	job, _ := q.Get(ctx, id)
	if job.Status != JobFailed || job.Error != "cancelled by user" {
		t.Fatalf("cancelled job state: %+v", job)
	}

	id2, _ := q.Enqueue(ctx, contactJob("c1", 5))
	if claimed, _ := q.Claim(ctx, id2); !claimed {
		t.Fatal("claim failed")
	}
	if ok, _ := q.Cancel(ctx, id2); ok {
		t.Fatal("processing job must not be cancellable")
	}
}

func TestRetryFailedResetsAttempts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{MaxAttempts: 1, Backoff: BackoffLinear, InitialDelay: time.Millisecond})

	id, _ := q.Enqueue(ctx, contactJob("c1", 5))
	if claimed, _ := q.Claim(ctx, id); !claimed {
		t.Fatal("claim failed")
	}
	if err := q.Fail(ctx, id, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, _ := q.Get(ctx, id)
	if job.Status != JobFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}

	ok, err := q.RetryFailed(ctx, id)
	if err != nil || !ok {
		t.Fatalf("retry failed job: ok=%v err=%v", ok, err)
	}
	job, _ = q.Get(ctx, id)
	if job.Status != JobPending || job.Attempts != 0 || job.Error != "" {
		t.Fatalf("requeued job state: %+v", job)
	}

	// Only failed jobs qualify.
	if ok, _ := q.RetryFailed(ctx, id); ok {
		t.Fatal("pending job must not be retryable")
	}
}

func TestStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{MaxAttempts: 1, Backoff: BackoffLinear, InitialDelay: time.Millisecond})

	doneID, _ := q.Enqueue(ctx, contactJob("c1", 5))
	q.Claim(ctx, doneID)
	q.Complete(ctx, doneID)

	failedID, _ := q.Enqueue(ctx, contactJob("c1", 5))
	q.Claim(ctx, failedID)
	q.Fail(ctx, failedID, "boom")

	q.Enqueue(ctx, contactJob("c2", 5))

	stats, err := q.Stats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("c1 stats: %+v", stats)
	}
	all, _ := q.Stats(ctx, "")
	if all.Total != 3 || all.Pending != 1 {
		t.Fatalf("global stats: %+v", all)
	}

	// Nothing old enough yet.
	n, _ := q.CleanOldJobs(ctx, time.Hour)
	if n != 0 {
		t.Fatalf("cleaned %d, want 0", n)
	}
	// Everything finished before now+epsilon.
	n, _ = q.CleanOldJobs(ctx, -time.Second)
	if n != 2 {
		t.Fatalf("cleaned %d, want 2", n)
	}
}

func TestWorkerProcessesAndRetries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(RetryPolicy{MaxAttempts: 2, Backoff: BackoffLinear, InitialDelay: time.Millisecond})

	attempts := make(map[string]int)
	handler := func(ctx context.Context, job *Job) error {
		attempts[job.ID]++
		if attempts[job.ID] == 1 {
			return errors.New("transient")
		}
		return nil
	}

	w := NewWorker(q, handler, WorkerConfig{PollInterval: time.Hour, BatchSize: 10, Concurrency: 1}, nil)

	id, _ := q.Enqueue(ctx, contactJob("c1", 5))

	w.Tick(ctx) // first attempt fails, rescheduled
	job, _ := q.Get(ctx, id)
	if job.Status != JobPending || job.Attempts != 1 {
		t.Fatalf("after first tick: %+v", job)
	}

	time.Sleep(5 * time.Millisecond) // backoff elapses
	w.Tick(ctx)                      // second attempt succeeds
	job, _ = q.Get(ctx, id)
	if job.Status != JobCompleted {
		t.Fatalf("after second tick: %+v", job)
	}
	if attempts[id] != 2 {
		t.Fatalf("handler ran %d times, want 2", attempts[id])
	}
}
