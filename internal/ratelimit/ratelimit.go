// Package ratelimit caps how many turns a session may send per window.
// Backends: in-memory (single instance) and Redis (shared fixed window).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts turns per session.
type Limiter interface {
	Allow(ctx context.Context, sessionID string) (Decision, error)
	Forget(ctx context.Context, sessionID string) error
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, sessionID string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

func (Unlimited) Forget(ctx context.Context, sessionID string) error { return nil }

type InMemory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewInMemory allows limit turns per session in each window.
func NewInMemory(limit int, win time.Duration) *InMemory {
	return &InMemory{
		limit:   limit,
		window:  win,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (r *InMemory) Allow(ctx context.Context, sessionID string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[sessionID]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(r.window)}
		r.windows[sessionID] = w
	}

	if w.count >= r.limit {
		return Decision{Allowed: false, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: r.limit - w.count, ResetAt: w.resetAt}, nil
}

func (r *InMemory) Forget(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, sessionID)
	return nil
}
