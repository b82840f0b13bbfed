package repository

import (
	"context"
	"sync"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// SessionRepository stores live sessions by id.
type SessionRepository[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	Put(ctx context.Context, id string, session T) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) int
}

type InMemorySessions[T any] struct {
	mu       sync.RWMutex
	sessions map[string]T
}

func NewInMemorySessions[T any]() *InMemorySessions[T] {
	return &InMemorySessions[T]{sessions: make(map[string]T)}
}

func (r *InMemorySessions[T]) Get(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		var zero T
		return zero, domain.ErrSessionNotFound
	}
	return s, nil
}

func (r *InMemorySessions[T]) Put(ctx context.Context, id string, session T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = session
	return nil
}

func (r *InMemorySessions[T]) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *InMemorySessions[T]) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
