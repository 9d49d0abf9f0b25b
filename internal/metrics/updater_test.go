package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu sync.Mutex

	pending []Job
	done    []int64
	failed  []int64

	recomputed   []int64
	recomputeErr map[int64]error
	fetchErr     error
}

func (s *fakeStore) FetchPending(_ context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if len(s.pending) < limit {
		limit = len(s.pending)
	}
	out := make([]Job, limit)
	copy(out, s.pending[:limit])
	return out, nil
}

func (s *fakeStore) RecomputeAverage(_ context.Context, restaurantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recomputeErr[restaurantID]; err != nil {
		return err
	}
	s.recomputed = append(s.recomputed, restaurantID)
	return nil
}

func (s *fakeStore) MarkDone(_ context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, jobID)
	s.removeLocked(jobID)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, jobID)
	for i := range s.pending {
		if s.pending[i].ID == jobID {
			s.pending[i].Attempts++
		}
	}
	return nil
}

func (s *fakeStore) removeLocked(jobID int64) {
	for i := range s.pending {
		if s.pending[i].ID == jobID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func newWorker(t *testing.T, store Store) *Worker {
	t.Helper()
	return NewWorker(store, time.Minute, zaptest.NewLogger(t))
}

func TestWorker_DrainProcessesAllJobs(t *testing.T) {
	store := &fakeStore{
		pending: []Job{
			{ID: 1, RestaurantID: 10},
			{ID: 2, RestaurantID: 11},
			{ID: 3, RestaurantID: 10},
		},
	}
	w := newWorker(t, store)

	w.drain(context.Background())

	assert.Empty(t, store.pending)
	assert.ElementsMatch(t, []int64{1, 2, 3}, store.done)
	assert.Equal(t, []int64{10, 11, 10}, store.recomputed)
}

func TestWorker_DrainEmptiesQueueAcrossBatches(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 50; i++ {
		store.pending = append(store.pending, Job{ID: i, RestaurantID: i})
	}
	w := newWorker(t, store)

	w.drain(context.Background())

	assert.Empty(t, store.pending)
	assert.Len(t, store.done, 50)
}

func TestWorker_FailedJobKeptForRetry(t *testing.T) {
	store := &fakeStore{
		pending: []Job{
			{ID: 1, RestaurantID: 10},
			{ID: 2, RestaurantID: 11},
		},
		recomputeErr: map[int64]error{10: errors.New("restaurant gone")},
	}
	w := newWorker(t, store)

	w.drain(context.Background())

	// Job 2 succeeded, job 1 stays queued with a bumped attempt counter.
	// The drain retries job 1 once more before bailing on the empty pass.
	assert.Equal(t, []int64{2}, store.done)
	assert.Contains(t, store.failed, int64(1))
	require.Len(t, store.pending, 1)
	assert.Equal(t, int64(1), store.pending[0].ID)
	assert.GreaterOrEqual(t, store.pending[0].Attempts, 1)
}

func TestWorker_BailsWhenNoProgress(t *testing.T) {
	store := &fakeStore{
		pending: []Job{{ID: 1, RestaurantID: 10}},
		recomputeErr: map[int64]error{
			10: errors.New("restaurant gone"),
		},
	}
	w := newWorker(t, store)

	// Would spin forever on a stuck job if drain did not bail.
	w.drain(context.Background())

	assert.Equal(t, []int64{1}, store.failed)
	assert.Len(t, store.pending, 1)
}

func TestWorker_FetchErrorLoggedNotFatal(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("connection refused")}
	w := newWorker(t, store)

	w.drain(context.Background())

	assert.Empty(t, store.done)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{pending: []Job{{ID: 1, RestaurantID: 10}}}
	w := newWorker(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// The initial drain handles the queued job before the first tick.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.done) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
