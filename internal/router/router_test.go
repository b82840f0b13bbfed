package router

import (
	"errors"
	"reflect"
	"testing"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

func TestRoster_AdvanceInOrder(t *testing.T) {
	r := NewRoster("free", []string{"m1", "m2", "m3"})

	got := []string{r.Current()}
	for i := 0; i < 3; i++ {
		r.Advance()
		got = append(got, r.Current())
	}

	want := []string{"m1", "m2", "m3", "m1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRoster_FixedNeverAdvances(t *testing.T) {
	r := NewFixed("pro", "gpt-5-mini-2025-08-07")

	for i := 0; i < 3; i++ {
		if r.Advance() {
			t.Fatal("Advance() on fixed roster should return false")
		}
	}
	if !r.Fixed() {
		t.Error("Fixed() should be true")
	}
	if r.Current() != "gpt-5-mini-2025-08-07" {
		t.Errorf("Current() = %q", r.Current())
	}
}

func TestRoster_EmptyCurrent(t *testing.T) {
	r := NewRoster("empty", nil)
	if r.Current() != "" {
		t.Errorf("Current() = %q, want empty", r.Current())
	}
}

func TestRosterSweep_Wraps(t *testing.T) {
	r := NewRoster("free", []string{"a", "b"})
	r.Advance()

	s := r.StartSweep()
	s.Advance()
	if s.HasWrapped() {
		t.Error("should not wrap after 1 of 2 advances")
	}
	s.Advance()
	if !s.HasWrapped() {
		t.Error("should wrap after 2 of 2 advances")
	}
	if r.Cursor() != 1 {
		t.Errorf("Cursor() = %d, want 1", r.Cursor())
	}
}

func TestRosterSweep_OwnCursor(t *testing.T) {
	r := NewRoster("free", []string{"a", "b", "c"})
	s := r.StartSweep()

	r.Advance()
	r.Advance()
	if s.Current() != "a" {
		t.Errorf("Current() = %q, want a", s.Current())
	}

	s.Advance()
	if s.Current() != "b" || r.Current() != "b" {
		t.Errorf("sweep at %q, roster at %q, want b", s.Current(), r.Current())
	}
	s.Advance()
	if s.HasWrapped() {
		t.Error("outside advances must not end the sweep")
	}
	s.Advance()
	if !s.HasWrapped() {
		t.Error("should wrap after 3 of 3 advances")
	}
}

func TestRoster_ModelsIsCopy(t *testing.T) {
	r := NewRoster("free", []string{"a", "b"})
	models := r.Models()
	models[0] = "changed"

	if r.Current() != "a" {
		t.Error("Models() must not expose internal slice")
	}
}

func TestNew_RequiresFreeModels(t *testing.T) {
	if _, err := New(Config{ProModel: "p"}); !errors.Is(err, ErrEmptyRoster) {
		t.Errorf("expected ErrEmptyRoster, got %v", err)
	}
}

func TestRouter_Select(t *testing.T) {
	r, err := New(Config{
		FreeModels:  []string{"f1", "f2"},
		ProModel:    "pro-model",
		VisionModel: "vision-model",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name   string
		tier   domain.Tier
		vision bool
		want   string
	}{
		{"free text", domain.TierFree, false, "free"},
		{"pro text", domain.TierPro, false, "pro"},
		{"free image", domain.TierFree, true, "vision"},
		{"pro image", domain.TierPro, true, "vision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster, err := r.Select(tt.tier, tt.vision)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if roster.Name() != tt.want {
				t.Errorf("Select() = %s, want %s", roster.Name(), tt.want)
			}
		})
	}
}

func TestRouter_SelectWithoutOptionalRosters(t *testing.T) {
	r, _ := New(Config{FreeModels: []string{"f1"}})

	roster, err := r.Select(domain.TierFree, true)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if roster.Name() != "free" {
		t.Errorf("image turn without vision model should use free roster, got %s", roster.Name())
	}

	if _, err := r.Select(domain.TierPro, false); !errors.Is(err, domain.ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}

	if len(r.Rosters()) != 1 {
		t.Errorf("Rosters() len = %d, want 1", len(r.Rosters()))
	}
}
