// Package conversation keeps the ordered message log of one tutoring
// session.
//
// The log is authoritative and untrimmed. Trimmed returns the capped view
// that is sent upstream; it never changes the log.
package conversation

import (
	"fmt"
	"sync"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// State is an ordered message log holding at most one system message, which
// is always first. It is safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	messages []domain.Message
}

func New() *State {
	return &State{}
}

// NewWithSystem starts a log with the given system prompt. An empty prompt
// starts an empty log.
func NewWithSystem(prompt string) *State {
	s := &State{}
	if prompt != "" {
		s.messages = append(s.messages, domain.NewSystemMessage(prompt))
	}
	return s
}

// Append adds m to the end of the log. A system message is only accepted as
// the first entry.
func (s *State) Append(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Role == domain.RoleSystem && len(s.messages) > 0 {
		return fmt.Errorf("append %s message at %d: %w", m.Role, len(s.messages), domain.ErrSystemMessagePosition)
	}
	s.messages = append(s.messages, m)
	return nil
}

// RollbackLast removes the most recent entry. The system message is never
// removed.
func (s *State) RollbackLast() (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages)
	if n == 0 || (n == 1 && s.messages[0].Role == domain.RoleSystem) {
		return domain.Message{}, domain.ErrNothingToRollback
	}

	last := s.messages[n-1]
	s.messages[n-1] = domain.Message{}
	s.messages = s.messages[:n-1]
	return last, nil
}

// Trimmed returns at most limit messages: the system message, if any,
// followed by the most recent other entries. limit < 1 returns the whole
// log. The result is a copy.
func (s *State) Trimmed(limit int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || len(s.messages) <= limit {
		return cloneMessages(s.messages)
	}

	out := make([]domain.Message, 0, limit)
	rest := s.messages
	if rest[0].Role == domain.RoleSystem {
		out = append(out, rest[0])
		rest = rest[1:]
	}
	keep := limit - len(out)
	if keep > 0 {
		out = append(out, rest[len(rest)-keep:]...)
	}
	return out
}

// Messages returns a copy of the full log.
func (s *State) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// System returns the system message text, or "".
func (s *State) System() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) > 0 && s.messages[0].Role == domain.RoleSystem {
		return s.messages[0].Content.String()
	}
	return ""
}

// HasImage reports whether any entry carries an image part.
func (s *State) HasImage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		for _, p := range m.Content.Parts {
			if p.ImageURL != nil {
				return true
			}
		}
	}
	return false
}

func cloneMessages(in []domain.Message) []domain.Message {
	if in == nil {
		return []domain.Message{}
	}
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}
