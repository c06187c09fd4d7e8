// Package ratelimit implements per-address admission control over a trailing
// time window. Each key keeps the timestamps of its admitted attempts; entries
// older than the window are pruned before every decision.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Remaining is the number of attempts still admissible in the window
	// after this one.
	Remaining int
	// RetryAfter is how long until the oldest attempt leaves the window.
	// Only set when Allowed is false.
	RetryAfter time.Duration
}

// Store decides whether key may make another attempt at now.
// An admitted attempt is recorded; a refused one is not.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time) (Decision, error)
}

// ErrInvalidLimit is returned by constructors given a non-positive limit or window.
var ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")

// MemoryStore keeps windows in process memory. The map is guarded by mu;
// each window has its own lock so different addresses never contend on the
// prune-count-append cycle.
type MemoryStore struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientWindow
}

type clientWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	// evicted is set by Sweep once the window has been removed from the map.
	evicted bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store admitting limit attempts per window per key.
func NewMemoryStore(limit int, window time.Duration) (*MemoryStore, error) {
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidLimit
	}
	return &MemoryStore{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
	}, nil
}

// Admit implements Store.
func (s *MemoryStore) Admit(ctx context.Context, key string, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	cw := s.lockWindow(key)
	defer cw.mu.Unlock()

	cw.prune(now, s.window)
	if len(cw.timestamps) >= s.limit {
		return Decision{
			Allowed:    false,
			RetryAfter: cw.timestamps[0].Add(s.window).Sub(now),
		}, nil
	}
	cw.timestamps = append(cw.timestamps, now)
	return Decision{Allowed: true, Remaining: s.limit - len(cw.timestamps)}, nil
}

// lockWindow returns the locked window for key, creating it if needed.
// A window evicted by a concurrent Sweep is never returned.
func (s *MemoryStore) lockWindow(key string) *clientWindow {
	for {
		s.mu.Lock()
		cw, ok := s.clients[key]
		if !ok {
			cw = &clientWindow{}
			s.clients[key] = cw
		}
		s.mu.Unlock()

		cw.mu.Lock()
		if !cw.evicted {
			return cw
		}
		cw.mu.Unlock()
	}
}

// prune drops timestamps that have aged out of the window; in-place filter
// on the shared backing array. Caller holds cw.mu.
func (cw *clientWindow) prune(now time.Time, window time.Duration) {
	valid := cw.timestamps[:0]
	for _, ts := range cw.timestamps {
		if now.Sub(ts) < window {
			valid = append(valid, ts)
		}
	}
	cw.timestamps = valid
}

// Sweep removes keys whose windows are empty at now.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cw := range s.clients {
		cw.mu.Lock()
		cw.prune(now, s.window)
		if len(cw.timestamps) == 0 {
			cw.evicted = true
			delete(s.clients, key)
		}
		cw.mu.Unlock()
	}
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run sweeps stale keys every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
