package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

// Worker consumes the durable dispatch queue and drives executions. Failed
// jobs are rescheduled with a doubling delay until the attempt budget is
// spent; the queue, not process memory, is the source of truth, so any
// worker instance can pick up any job.
type Worker struct {
	logger      *slog.Logger
	queue       repo.DispatchQueue
	orch        *Orchestrator
	interval    time.Duration
	batch       int
	maxAttempts int
	retryBase   time.Duration
}

type WorkerConfig struct {
	Logger       *slog.Logger
	Queue        repo.DispatchQueue
	Orchestrator *Orchestrator
	Interval     time.Duration
	Batch        int
	MaxAttempts  int
	RetryBase    time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Batch < 1 {
		cfg.Batch = 10
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	return &Worker{
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		orch:        cfg.Orchestrator,
		interval:    cfg.Interval,
		batch:       cfg.Batch,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
	}
}

// Run processes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce drains one batch of due jobs.
func (w *Worker) RunOnce(ctx context.Context) {
	jobs, err := w.queue.DequeueDue(ctx, w.batch)
	if err != nil {
		w.logger.Error("dequeue dispatch jobs failed", "error", err)
		return
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job repo.DispatchJob) {
	err := w.orch.Execute(ctx, job.ExecutionID)
	if err == nil {
		if markErr := w.queue.MarkDone(ctx, job.ID); markErr != nil {
			w.logger.Error("mark dispatch job done failed", "job_id", job.ID, "error", markErr)
		}
		return
	}

	attempt := job.Attempts + 1
	w.logger.Error("dispatch job failed",
		"job_id", job.ID, "execution_id", job.ExecutionID, "kind", job.Kind,
		"attempt", attempt, "error", err)

	if attempt >= w.maxAttempts {
		w.logger.Error("dispatch job exhausted its attempts, dropping",
			"job_id", job.ID, "execution_id", job.ExecutionID)
		if markErr := w.queue.MarkDone(ctx, job.ID); markErr != nil {
			w.logger.Error("mark dispatch job done failed", "job_id", job.ID, "error", markErr)
		}
		return
	}

	delay := w.retryBase << (attempt - 1)
	retryAt := time.Now().UTC().Add(delay)
	if markErr := w.queue.MarkFailed(ctx, job.ID, attempt, retryAt, err.Error()); markErr != nil {
		w.logger.Error("reschedule dispatch job failed", "job_id", job.ID, "error", markErr)
	}
}
