// Package circuitbreaker stops sending turns to an upstream roster that keeps
// exhausting every key and model.
//
// States:
//   - Closed: turns pass through
//   - Open: turns fail immediately with domain.ErrCircuitBreakerOpen
//   - Half-Open: turns pass through; enough successes close the breaker,
//     one failure opens it again
//
// Implementations:
//   - InMemory: single instance, guarded by a mutex
//   - Redis: shared between gateway instances, one hash per breaker updated
//     by a Lua script
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// Breaker guards one upstream roster.
type Breaker interface {
	// Allow returns domain.ErrCircuitBreakerOpen while the breaker is open.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context) State
	// RecordFailure returns the state after the failure is counted.
	RecordFailure(ctx context.Context) State
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type Config struct {
	FailureThreshold int           // exhausted calls before opening
	SuccessThreshold int           // successes to close from half-open
	Cooldown         time.Duration // time open before trying half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

type InMemory struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
	now         func() time.Time
}

func NewInMemory(cfg Config) *InMemory {
	return &InMemory{config: cfg, now: time.Now}
}

func (b *InMemory) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) < b.config.Cooldown {
		return domain.ErrCircuitBreakerOpen
	}
	b.state = StateHalfOpen
	b.successes = 0
	return nil
}

func (b *InMemory) RecordSuccess(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
	return b.state
}

func (b *InMemory) RecordFailure(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
	}
	return b.state
}

func (b *InMemory) State(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Set holds one breaker per roster name, created on first use.
type Set struct {
	mu       sync.Mutex
	breakers map[string]Breaker
	factory  func(name string) Breaker
}

type SetOption func(*Set)

// WithFactory replaces the default in-memory breakers, for example with
// Redis ones sharing a client.
func WithFactory(f func(name string) Breaker) SetOption {
	return func(s *Set) {
		s.factory = f
	}
}

func NewSet(cfg Config, opts ...SetOption) *Set {
	s := &Set{
		breakers: make(map[string]Breaker),
		factory: func(string) Breaker {
			return NewInMemory(cfg)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Set) Get(name string) Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		return b
	}
	b := s.factory(name)
	s.breakers[name] = b
	return b
}

// States returns the state of every breaker created so far.
func (s *Set) States(ctx context.Context) map[string]string {
	s.mu.Lock()
	breakers := make(map[string]Breaker, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b
	}
	s.mu.Unlock()

	states := make(map[string]string, len(breakers))
	for name, b := range breakers {
		states[name] = b.State(ctx).String()
	}
	return states
}
