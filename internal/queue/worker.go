package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler executes one claimed job. A returned error counts as a failed
// attempt and triggers the retry policy.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig tunes the polling worker.
type WorkerConfig struct {
	// PollInterval between queue scans (default 5s).
	PollInterval time.Duration

	// BatchSize is how many due jobs one scan picks up (default 10).
	BatchSize int

	// Concurrency bounds simultaneously running handlers (default 4).
	Concurrency int
}

// Worker polls the queue and runs due jobs through a handler with bounded
// concurrency. Jobs are claimed before execution, so several workers can
// share one queue.
type Worker struct {
	queue   *Queue
	handler Handler
	cfg     WorkerConfig
	logger  *logrus.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewWorker creates a worker; zero-valued config fields get defaults.
func NewWorker(queue *Queue, handler Handler, cfg WorkerConfig, logger *logrus.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the polling loop. Safe to call once; returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Stop halts polling and waits for in-flight handlers to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.WithFields(logrus.Fields{
		"interval":    w.cfg.PollInterval,
		"batch":       w.cfg.BatchSize,
		"concurrency": w.cfg.Concurrency,
	}).Info("queue worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped: context done")
			return
		case <-w.stop:
			w.logger.Info("queue worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one scan-and-execute cycle. Exposed so schedulers and tests can
// drive the worker without the timer.
func (w *Worker) Tick(ctx context.Context) {
	jobs, err := w.queue.NextJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error("failed to fetch due jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		claimed, err := w.queue.Claim(ctx, job.ID)
		if err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Error("failed to claim job")
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.execute(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (w *Worker) execute(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"job_id": job.ID,
				"panic":  r,
			}).Error("job handler panicked")
			_ = w.queue.Fail(ctx, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.handler(ctx, job); err != nil {
		if failErr := w.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.WithError(failErr).WithField("job_id", job.ID).Error("failed to record job failure")
		}
		return
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Error("failed to record job completion")
	}
}
