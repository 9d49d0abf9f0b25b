package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliverus/orderd/internal/metrics"
)

var _ metrics.Store = (*MetricsStore)(nil)

// MetricsStore implements the metrics job queue and the average-service-time
// write on PostgreSQL. Jobs are enqueued by the order repository inside the
// deliver transaction; this store only drains them.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore returns a MetricsStore that uses the given pool.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

// FetchPending returns up to limit unfinished jobs, oldest first.
func (s *MetricsStore) FetchPending(ctx context.Context, limit int) ([]metrics.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, restaurant_id, created_at, attempts FROM metrics_jobs
		WHERE done_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching pending metrics jobs: %w", err)
	}
	defer rows.Close()

	var jobs []metrics.Job
	for rows.Next() {
		var j metrics.Job
		if err := rows.Scan(&j.ID, &j.RestaurantID, &j.CreatedAt, &j.Attempts); err != nil {
			return nil, fmt.Errorf("scanning metrics job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RecomputeAverage recalculates averageServiceMinutes as the mean of
// deliveredAt - startedAt, in minutes, over the restaurant's delivered
// orders, and persists it in one statement. A restaurant with no delivered
// orders averages to zero.
func (s *MetricsStore) RecomputeAverage(ctx context.Context, restaurantID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE restaurants SET average_service_minutes = COALESCE(
			(SELECT ROUND(AVG(EXTRACT(EPOCH FROM (delivered_at - started_at)) / 60)::numeric, 2)
			 FROM orders WHERE restaurant_id = $1 AND delivered_at IS NOT NULL),
			0)
		WHERE id = $1`, restaurantID)
	if err != nil {
		return fmt.Errorf("recomputing average for restaurant %d: %w", restaurantID, err)
	}
	return nil
}

// MarkDone finishes a job.
func (s *MetricsStore) MarkDone(ctx context.Context, jobID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE metrics_jobs SET done_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("marking metrics job %d done: %w", jobID, err)
	}
	return nil
}

// MarkFailed bumps a job's attempt counter, keeping it pending.
func (s *MetricsStore) MarkFailed(ctx context.Context, jobID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE metrics_jobs SET attempts = attempts + 1 WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("marking metrics job %d failed: %w", jobID, err)
	}
	return nil
}
