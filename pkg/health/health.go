// Package health provides Kubernetes-style liveness and readiness probes.
// Registered checks run periodically in the background; the HTTP endpoints
// only read the last recorded results, so probes stay cheap even when a
// check is slow or hung.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	lastErr error
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *check) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Service aggregates liveness and readiness checks and serves their state.
type Service struct {
	liveness  []*check
	readiness []*check
	ready     atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an empty health service. Register checks before Start.
func New() *Service {
	return &Service{}
}

// AddLivenessCheck registers a check that gates /livez.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	s.liveness = append(s.liveness, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a check that gates /readyz.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	s.readiness = append(s.readiness, &check{name: name, timeout: timeout, fn: fn})
}

// SetReady flips the administrative readiness gate. It is AND-ed with the
// readiness checks, letting shutdown drain traffic before the server stops.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start runs every check once, then again at each interval, until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	all := make([]*check, 0, len(s.liveness)+len(s.readiness))
	all = append(all, s.liveness...)
	all = append(all, s.readiness...)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for _, c := range all {
			c.run(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, c := range all {
					c.run(ctx)
				}
			}
		}
	}()
}

// Stop terminates the background check loop and waits for it to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// LiveEndpoint serves the liveness probe.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, s.liveness, true)
}

// ReadyEndpoint serves the readiness probe; it fails while the
// administrative gate is down regardless of check results.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, s.readiness, s.ready.Load())
}

func respond(w http.ResponseWriter, checks []*check, gate bool) {
	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(checks))

	if !gate {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	for _, c := range checks {
		if err := c.err(); err != nil {
			results[c.name] = err.Error()
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			results[c.name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": results,
	})
}

// GoroutineCountCheck fails when the goroutine count exceeds max, a cheap
// proxy for runaway leaks.
func GoroutineCountCheck(max int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > max {
			return fmt.Errorf("%d goroutines running, limit %d", n, max)
		}
		return nil
	}
}
