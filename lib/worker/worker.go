package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ecociel/remind/lib/domain"
	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/metrics"
	"github.com/ecociel/remind/runner"
	"github.com/google/uuid"
)

// Handler runs a claimed job. Returning an error makes the job retry
// according to the worker's retry policy, so handlers must be idempotent.
type Handler func(ctx context.Context, job domain.Job) error

type store interface {
	Claim(ctx context.Context, now time.Time, queues []string, limit int, owner string, lease time.Duration) ([]domain.Job, error)
	Complete(ctx context.Context, job domain.Job) error
	Fail(ctx context.Context, job domain.Job, reason string, next time.Time, final bool) error
}

type Config struct {
	Limit    int
	Interval time.Duration
	Lease    time.Duration
	Retry    queue.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Limit:    100,
		Interval: time.Second,
		Lease:    5 * time.Minute,
		Retry:    queue.DefaultRetryPolicy(),
	}
}

// Worker polls the job store and executes the handlers registered for the
// claimed jobs' queues. Workers can be run in parallel.
type Worker struct {
	id       string
	store    store
	cfg      Config
	handlers map[string]Handler
	metrics  metrics.JobMetrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(store store, cfg Config, m metrics.JobMetrics, logger *slog.Logger) *Worker {
	id := uuid.NewString()
	return &Worker{
		id:       id,
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		metrics:  m,
		logger:   logger.With("worker_id", id),
		now:      time.Now,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) RegisterHandler(queue string, hdl Handler) {
	w.handlers[queue] = hdl
}

// SetClock replaces the time source used to find due jobs.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "queues", w.queues(), "interval", w.cfg.Interval)
	runner.NewRunner(w.Poll, w.cfg.Interval, w.logger).Run(ctx)
	w.logger.Info("worker stopped")
}

func (w *Worker) queues() []string {
	queues := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		queues = append(queues, name)
	}
	slices.Sort(queues)
	return queues
}

// Poll claims the currently due jobs and handles them one after the other.
func (w *Worker) Poll(ctx context.Context) error {
	jobs, err := w.store.Claim(ctx, w.now(), w.queues(), w.cfg.Limit, w.id, w.cfg.Lease)
	if err != nil {
		return fmt.Errorf("claiming due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	w.metrics.JobsClaimed(len(jobs))
	w.logger.Debug("claimed due jobs", "count", len(jobs))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.handle(ctx, job)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, job domain.Job) {
	logger := w.logger.With("job_id", job.ID, "queue", job.Queue, "attempt", job.Attempts)

	hdl, ok := w.handlers[job.Queue]
	if !ok {
		logger.Error("no handler for queue")
		if err := w.store.Fail(ctx, job, "no handler for queue", w.now(), true); err != nil {
			logger.Error("fail job", "error", err)
		}
		w.metrics.JobFailed(job.Queue)
		return
	}

	// The lease bounds the handler so no other worker picks the job up
	// while it is still running here.
	hctx, cancel := context.WithTimeout(ctx, w.cfg.Lease)
	start := time.Now()
	err := hdl(hctx, job)
	cancel()
	w.metrics.HandleLatency(job.Queue, time.Since(start))

	if err == nil {
		if err := w.store.Complete(ctx, job); err != nil {
			logger.Error("complete job", "error", err)
			return
		}
		w.metrics.JobCompleted(job.Queue)
		return
	}

	delay, retry := w.cfg.Retry.Next(job.Attempts)
	if !retry {
		logger.Error("job failed permanently", "error", err)
		if ferr := w.store.Fail(ctx, job, err.Error(), w.now(), true); ferr != nil {
			logger.Error("fail job", "error", ferr)
		}
		w.metrics.JobFailed(job.Queue)
		return
	}

	next := w.now().Add(delay)
	logger.Warn("job failed, retrying", "error", err, "next_attempt", next)
	if ferr := w.store.Fail(ctx, job, err.Error(), next, false); ferr != nil {
		logger.Error("reschedule job", "error", ferr)
		return
	}
	w.metrics.JobRetried(job.Queue)
}
