// Package keypool holds the ordered set of upstream credentials and the
// cursor that selects the current one.
//
// The cursor only ever moves forward, wrapping modulo the pool length. A
// Sweep records where a rotation started so the caller can tell when every
// key has been tried.
package keypool

import (
	"strings"
	"sync"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// Pool is an ordered, immutable list of credentials plus a cursor.
// It is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// New creates a pool from already-parsed keys. The slice is copied.
func New(keys []string) *Pool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &Pool{keys: cp}
}

// Parse splits a comma-separated credential string, trimming whitespace and
// dropping empty entries.
func Parse(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Current returns the credential under the cursor.
func (p *Pool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", domain.ErrEmptyPool
	}
	return p.keys[p.cursor], nil
}

// Selected returns the cursor together with the credential it points at.
func (p *Pool) Selected() (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return 0, "", domain.ErrEmptyPool
	}
	return p.cursor, p.keys[p.cursor], nil
}

// Advance moves the cursor to the next key. It returns false and leaves the
// cursor unchanged when there is nothing to rotate to.
func (p *Pool) Advance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) <= 1 {
		return false
	}
	p.cursor = (p.cursor + 1) % len(p.keys)
	return true
}

func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Reset moves the cursor back to the first key.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = 0
}

// Masked returns the keys with everything but the last four characters hidden.
func (p *Pool) Masked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.keys))
	for i, k := range p.keys {
		out[i] = Mask(k)
	}
	return out
}

func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// StartSweep records the current cursor as the start of a rotation.
func (p *Pool) StartSweep() *Sweep {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Sweep{pool: p, start: p.cursor, n: len(p.keys)}
}

func (p *Pool) at(i int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", domain.ErrEmptyPool
	}
	return p.keys[i%len(p.keys)], nil
}

func (p *Pool) setCursor(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) > 0 {
		p.cursor = i % len(p.keys)
	}
}

// Sweep is one pass over the pool with its own cursor, so passes running
// concurrently on the same pool each try every key. Every advance is written
// back to the pool so the next pass starts where this one moved to.
type Sweep struct {
	pool     *Pool
	start    int
	advances int
	n        int
}

func (s *Sweep) Start() int {
	return s.start
}

// Index is the position this sweep is on.
func (s *Sweep) Index() int {
	if s.n == 0 {
		return 0
	}
	return (s.start + s.advances) % s.n
}

// Selected returns the sweep's position and the credential there.
func (s *Sweep) Selected() (int, string, error) {
	idx := s.Index()
	key, err := s.pool.at(idx)
	if err != nil {
		return 0, "", err
	}
	return idx, key, nil
}

// Advance moves the sweep to the next key. It returns false when the pool
// has nothing to rotate to.
func (s *Sweep) Advance() bool {
	if s.n <= 1 {
		return false
	}
	s.advances++
	s.pool.setCursor(s.Index())
	return true
}

// HasWrapped reports whether the sweep has advanced once per key, that is,
// every key was tried and the sweep is back at its start.
func (s *Sweep) HasWrapped() bool {
	return s.n > 0 && s.advances >= s.n
}
