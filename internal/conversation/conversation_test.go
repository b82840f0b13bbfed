package conversation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

func turns(s *State, n int) {
	for i := 0; i < n; i++ {
		s.Append(domain.NewUserMessage(fmt.Sprintf("q%d", i)))
		s.Append(domain.NewAssistantMessage(fmt.Sprintf("a%d", i)))
	}
}

func TestTrimmed_KeepsSystemAndMostRecent(t *testing.T) {
	s := NewWithSystem("you are a tutor")
	turns(s, 5) // 10 entries after the system message

	view := s.Trimmed(5)

	if len(view) != 5 {
		t.Fatalf("len(view) = %d, want 5", len(view))
	}
	if view[0].Role != domain.RoleSystem {
		t.Errorf("view[0].Role = %s, want system", view[0].Role)
	}
	want := []string{"q3", "a3", "q4", "a4"}
	for i, w := range want {
		if got := view[i+1].Content.String(); got != w {
			t.Errorf("view[%d] = %q, want %q", i+1, got, w)
		}
	}
	if s.Len() != 11 {
		t.Errorf("Len() = %d, trimming must not shrink the log", s.Len())
	}
}

func TestTrimmed(t *testing.T) {
	tests := []struct {
		name      string
		system    string
		turns     int
		limit     int
		wantLen   int
		wantFirst string
	}{
		{"under cap", "sys", 1, 5, 3, "sys"},
		{"no system", "", 5, 3, 3, "a3"},
		{"cap of one keeps system only", "sys", 3, 1, 1, "sys"},
		{"zero cap returns everything", "sys", 3, 0, 7, "sys"},
		{"exactly at cap", "sys", 2, 5, 5, "sys"},
		{"empty log", "", 0, 5, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWithSystem(tt.system)
			turns(s, tt.turns)

			view := s.Trimmed(tt.limit)
			if len(view) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(view), tt.wantLen)
			}
			if tt.wantLen > 0 && view[0].Content.String() != tt.wantFirst {
				t.Errorf("first = %q, want %q", view[0].Content.String(), tt.wantFirst)
			}
		})
	}
}

func TestTrimmed_ReturnsCopy(t *testing.T) {
	s := NewWithSystem("sys")
	turns(s, 1)

	view := s.Trimmed(10)
	view[1] = domain.NewUserMessage("changed")

	if s.Messages()[1].Content.String() != "q0" {
		t.Error("Trimmed() must not alias the log")
	}
}

func TestAppend_SystemMustBeFirst(t *testing.T) {
	s := New()
	if err := s.Append(domain.NewSystemMessage("sys")); err != nil {
		t.Fatalf("first system message rejected: %v", err)
	}
	if err := s.Append(domain.NewSystemMessage("again")); !errors.Is(err, domain.ErrSystemMessagePosition) {
		t.Errorf("expected ErrSystemMessagePosition, got %v", err)
	}

	s2 := New()
	s2.Append(domain.NewUserMessage("hi"))
	if err := s2.Append(domain.NewSystemMessage("late")); !errors.Is(err, domain.ErrSystemMessagePosition) {
		t.Errorf("expected ErrSystemMessagePosition, got %v", err)
	}
}

func TestRollbackLast(t *testing.T) {
	s := NewWithSystem("sys")
	s.Append(domain.NewUserMessage("pending"))
	before := s.Len()

	last, err := s.RollbackLast()
	if err != nil {
		t.Fatalf("RollbackLast() error = %v", err)
	}
	if last.Content.String() != "pending" {
		t.Errorf("rolled back %q", last.Content.String())
	}
	if s.Len() != before-1 {
		t.Errorf("Len() = %d, want %d", s.Len(), before-1)
	}

	if _, err := s.RollbackLast(); !errors.Is(err, domain.ErrNothingToRollback) {
		t.Errorf("system message must survive rollback, got %v", err)
	}
	if s.System() != "sys" {
		t.Errorf("System() = %q", s.System())
	}
}

func TestRollbackLast_Empty(t *testing.T) {
	if _, err := New().RollbackLast(); !errors.Is(err, domain.ErrNothingToRollback) {
		t.Errorf("expected ErrNothingToRollback, got %v", err)
	}
}

func TestHasImage(t *testing.T) {
	s := New()
	s.Append(domain.NewUserMessage("text only"))
	if s.HasImage() {
		t.Error("HasImage() = true for text log")
	}

	s.Append(domain.Message{Role: domain.RoleUser, Content: domain.Content{Parts: []domain.ContentPart{
		{Type: "text", Text: "what is this?"},
		{Type: "image_url", ImageURL: &domain.ImageURL{URL: "data:image/png;base64,AAAA"}},
	}}})
	if !s.HasImage() {
		t.Error("HasImage() = false after image turn")
	}
}
