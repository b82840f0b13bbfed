package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/caller"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

func TestInMemorySessions(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySessions[string]()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrSessionNotFound", err)
	}

	repo.Put(ctx, "s1", "session one")
	got, err := repo.Get(ctx, "s1")
	if err != nil || got != "session one" {
		t.Errorf("Get(s1) = %q, %v", got, err)
	}
	if repo.Count(ctx) != 1 {
		t.Errorf("Count() = %d", repo.Count(ctx))
	}

	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("second Delete() = %v, want ErrSessionNotFound", err)
	}
}

func TestInMemoryAttemptLog_Capacity(t *testing.T) {
	ctx := context.Background()
	log := NewInMemoryAttemptLog(3)

	for i := 1; i <= 5; i++ {
		log.Record(ctx, AttemptRecord{SessionID: "s", Attempt: i})
	}

	got, _ := log.BySession(ctx, "s", 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int{5, 4, 3} {
		if got[i].Attempt != want {
			t.Errorf("got[%d].Attempt = %d, want %d", i, got[i].Attempt, want)
		}
	}
}

func TestInMemoryAttemptLog_BySession(t *testing.T) {
	ctx := context.Background()
	log := NewInMemoryAttemptLog(10)

	log.Record(ctx, AttemptRecord{SessionID: "a", Attempt: 1})
	log.Record(ctx, AttemptRecord{SessionID: "b", Attempt: 1})
	log.Record(ctx, AttemptRecord{SessionID: "a", Attempt: 2})
	log.Record(ctx, AttemptRecord{SessionID: "a", Attempt: 3})

	got, _ := log.BySession(ctx, "a", 2)
	if len(got) != 2 || got[0].Attempt != 3 || got[1].Attempt != 2 {
		t.Errorf("BySession(a, 2) = %+v", got)
	}
}

type blockingLog struct {
	mu      sync.Mutex
	records []AttemptRecord
	release chan struct{}
}

func (l *blockingLog) Record(ctx context.Context, rec AttemptRecord) error {
	if l.release != nil {
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *blockingLog) BySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error) {
	return nil, nil
}

func TestAttemptRecorder_FlushesOnClose(t *testing.T) {
	log := &blockingLog{}
	r := NewAttemptRecorder(log, 10)

	for i := 1; i <= 3; i++ {
		r.OnAttempt(caller.AttemptEvent{
			CallID:    "call-1",
			SessionID: "s",
			Attempt:   i,
			Outcome:   domain.OutcomeRetryable,
			Kind:      domain.KindRateLimited,
			Status:    429,
			Latency:   1500 * time.Millisecond,
			Next:      caller.StateRotatingKey,
		})
	}
	r.Close()

	if len(log.records) != 3 {
		t.Fatalf("records = %d, want 3", len(log.records))
	}
	rec := log.records[0]
	if rec.Outcome != "retryable" || rec.Kind != "rate_limited" || rec.LatencyMs != 1500 || rec.Next != "rotating_key" {
		t.Errorf("record = %+v", rec)
	}
}

func TestAttemptRecorder_DropsWhenFull(t *testing.T) {
	log := &blockingLog{release: make(chan struct{})}
	r := NewAttemptRecorder(log, 1)

	for i := 0; i < 10; i++ {
		r.OnAttempt(caller.AttemptEvent{CallID: fmt.Sprint(i)})
	}
	if r.Dropped() == 0 {
		t.Error("expected drops with a blocked log and a buffer of 1")
	}

	close(log.release)
	r.Close()
	r.Close()
}
