// Package metrics maintains each restaurant's rolling average service time.
//
// Delivering an order enqueues a recomputation job in the same transaction
// that stamps deliveredAt, so jobs are never lost. The worker here drains
// the queue in the background: a failed recomputation is logged, its
// attempt counter bumped, and the job retried on a later pass. Metrics
// failures never affect the delivery itself.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Job is one queued recomputation request for a restaurant.
type Job struct {
	ID           int64
	RestaurantID int64
	CreatedAt    time.Time
	Attempts     int
}

// Store is the persistence interface for the job queue and the derived
// statistic itself.
type Store interface {
	// FetchPending returns up to limit unfinished jobs, oldest first.
	FetchPending(ctx context.Context, limit int) ([]Job, error)
	// RecomputeAverage recalculates the restaurant's average service time
	// (mean of deliveredAt - startedAt, in minutes, over its delivered
	// orders) and persists it onto the restaurant record.
	RecomputeAverage(ctx context.Context, restaurantID int64) error
	// MarkDone finishes a job.
	MarkDone(ctx context.Context, jobID int64) error
	// MarkFailed increments a job's attempt counter, keeping it pending.
	MarkFailed(ctx context.Context, jobID int64) error
}

// Worker periodically drains the metrics job queue.
type Worker struct {
	store    Store
	interval time.Duration
	batch    int
	lg       *zap.Logger

	jobsDone   metric.Int64Counter
	jobsFailed metric.Int64Counter
}

// NewWorker creates a Worker polling at the given interval.
func NewWorker(store Store, interval time.Duration, lg *zap.Logger) *Worker {
	meter := otel.Meter("orderd.metrics")
	jobsDone, _ := meter.Int64Counter("metrics.jobs.done",
		metric.WithDescription("Completed service-time recomputation jobs"))
	jobsFailed, _ := meter.Int64Counter("metrics.jobs.failed",
		metric.WithDescription("Failed recomputation attempts"))

	return &Worker{
		store:      store,
		interval:   interval,
		batch:      32,
		lg:         lg,
		jobsDone:   jobsDone,
		jobsFailed: jobsFailed,
	}
}

// Run drains the queue once immediately and then on every tick until the
// context is cancelled. It always returns nil on cancellation so it can sit
// in an errgroup next to the HTTP server.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes pending jobs until the queue is empty or an iteration
// makes no progress.
func (w *Worker) drain(ctx context.Context) {
	for {
		jobs, err := w.store.FetchPending(ctx, w.batch)
		if err != nil {
			if ctx.Err() == nil {
				w.lg.Error("fetch pending metrics jobs", zap.Error(err))
			}
			return
		}
		if len(jobs) == 0 {
			return
		}

		done := 0
		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			if w.process(ctx, job) {
				done++
			}
		}
		if done == 0 {
			// Every job failed; back off until the next tick.
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) bool {
	if err := w.store.RecomputeAverage(ctx, job.RestaurantID); err != nil {
		w.lg.Warn("recompute average service time",
			zap.Int64("restaurant_id", job.RestaurantID),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(err),
		)
		if err := w.store.MarkFailed(ctx, job.ID); err != nil {
			w.lg.Error("mark metrics job failed", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		w.jobsFailed.Add(ctx, 1)
		return false
	}

	if err := w.store.MarkDone(ctx, job.ID); err != nil {
		w.lg.Error("mark metrics job done", zap.Int64("job_id", job.ID), zap.Error(err))
		return false
	}
	w.jobsDone.Add(ctx, 1)
	return true
}
