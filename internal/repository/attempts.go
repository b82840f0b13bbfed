package repository

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/caller"
)

// AttemptRecord is one persisted completion attempt.
type AttemptRecord struct {
	CallID    string    `json:"call_id"`
	SessionID string    `json:"session_id"`
	Roster    string    `json:"roster"`
	Model     string    `json:"model"`
	KeyIndex  int       `json:"key_index"`
	Round     int       `json:"round"`
	Attempt   int       `json:"attempt"`
	Outcome   string    `json:"outcome"`
	Kind      string    `json:"kind,omitempty"`
	Status    int       `json:"status,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Next      string    `json:"next"`
	CreatedAt time.Time `json:"created_at"`
}

func recordFromEvent(e caller.AttemptEvent, at time.Time) AttemptRecord {
	return AttemptRecord{
		CallID:    e.CallID,
		SessionID: e.SessionID,
		Roster:    e.Roster,
		Model:     e.Model,
		KeyIndex:  e.KeyIndex,
		Round:     e.Round,
		Attempt:   e.Attempt,
		Outcome:   e.Outcome.String(),
		Kind:      string(e.Kind),
		Status:    e.Status,
		LatencyMs: e.Latency.Milliseconds(),
		Next:      string(e.Next),
		CreatedAt: at,
	}
}

type AttemptLog interface {
	Record(ctx context.Context, rec AttemptRecord) error
	BySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error)
}

// InMemoryAttemptLog keeps the most recent records up to a fixed capacity.
type InMemoryAttemptLog struct {
	mu       sync.RWMutex
	records  []AttemptRecord
	capacity int
}

func NewInMemoryAttemptLog(capacity int) *InMemoryAttemptLog {
	if capacity < 1 {
		capacity = 1000
	}
	return &InMemoryAttemptLog{capacity: capacity}
}

func (l *InMemoryAttemptLog) Record(ctx context.Context, rec AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, rec)
	return nil
}

// BySession returns the newest records of a session first.
func (l *InMemoryAttemptLog) BySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []AttemptRecord
	for i := len(l.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if l.records[i].SessionID == sessionID {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

// AttemptRecorder writes attempt events to an AttemptLog from a background
// goroutine so the caller never waits on storage. Events arriving while the
// buffer is full are dropped.
type AttemptRecorder struct {
	log     AttemptLog
	events  chan AttemptRecord
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewAttemptRecorder(log AttemptLog, buffer int) *AttemptRecorder {
	if buffer < 1 {
		buffer = 256
	}
	r := &AttemptRecorder{
		log:    log,
		events: make(chan AttemptRecord, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *AttemptRecorder) OnAttempt(e caller.AttemptEvent) {
	select {
	case r.events <- recordFromEvent(e, time.Now()):
	default:
		r.dropped.Add(1)
		slog.Warn("attempt log buffer full, dropping record", "call_id", e.CallID)
	}
}

func (r *AttemptRecorder) OnCall(caller.CallEvent) {}

// Dropped returns how many records were discarded.
func (r *AttemptRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes buffered records and stops the worker. OnAttempt must not
// be called afterwards.
func (r *AttemptRecorder) Close() {
	r.once.Do(func() {
		close(r.events)
		<-r.done
	})
}

func (r *AttemptRecorder) run() {
	defer close(r.done)

	for rec := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.log.Record(ctx, rec); err != nil {
			slog.Error("failed to record attempt", "call_id", rec.CallID, "error", err)
		}
		cancel()
	}
}
