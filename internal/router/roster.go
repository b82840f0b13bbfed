package router

import "sync"

// Roster is an ordered list of candidate models with a cursor. Models are
// tried in listed order; the roster never reorders itself, only the cursor
// moves. A roster of length one is fixed: Advance always returns false.
type Roster struct {
	name string

	mu     sync.Mutex
	models []string
	cursor int
}

func NewRoster(name string, models []string) *Roster {
	cp := make([]string, len(models))
	copy(cp, models)
	return &Roster{name: name, models: cp}
}

// NewFixed creates a single-model roster (paid and vision tiers).
func NewFixed(name, model string) *Roster {
	return NewRoster(name, []string{model})
}

func (r *Roster) Name() string {
	return r.name
}

// Current returns the model under the cursor, or "" for an empty roster.
func (r *Roster) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.models) == 0 {
		return ""
	}
	return r.models[r.cursor]
}

func (r *Roster) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.models) <= 1 {
		return false
	}
	r.cursor = (r.cursor + 1) % len(r.models)
	return true
}

func (r *Roster) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}

func (r *Roster) Fixed() bool {
	return r.Len() <= 1
}

func (r *Roster) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.models))
	copy(out, r.models)
	return out
}

func (r *Roster) StartSweep() *Sweep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Sweep{roster: r, start: r.cursor, n: len(r.models)}
}

func (r *Roster) at(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.models) == 0 {
		return ""
	}
	return r.models[i%len(r.models)]
}

func (r *Roster) setCursor(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.models) > 0 {
		r.cursor = i % len(r.models)
	}
}

// Sweep is one pass over the roster with its own cursor; see keypool.Sweep.
type Sweep struct {
	roster   *Roster
	start    int
	advances int
	n        int
}

func (s *Sweep) Start() int {
	return s.start
}

func (s *Sweep) Index() int {
	if s.n == 0 {
		return 0
	}
	return (s.start + s.advances) % s.n
}

// Current returns the model at the sweep's position.
func (s *Sweep) Current() string {
	return s.roster.at(s.Index())
}

func (s *Sweep) Advance() bool {
	if s.n <= 1 {
		return false
	}
	s.advances++
	s.roster.setCursor(s.Index())
	return true
}

func (s *Sweep) HasWrapped() bool {
	return s.n > 0 && s.advances >= s.n
}
