package caller

import (
	"context"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// State is where the call goes after an attempt.
type State string

const (
	StateSucceeded     State = "succeeded"
	StateRotatingKey   State = "rotating_key"
	StateRotatingModel State = "rotating_model"
	StateBackoff       State = "backoff"
	StateExhausted     State = "exhausted"
	StateFailed        State = "failed"
	StateAborted       State = "aborted"
)

// AttemptEvent describes one request to the completion endpoint.
type AttemptEvent struct {
	CallID    string
	SessionID string
	Roster    string
	Model     string
	KeyIndex  int
	Round     int
	Attempt   int
	Outcome   domain.Outcome
	Kind      domain.ErrorKind
	Status    int
	Latency   time.Duration
	Next      State
}

// CallEvent describes a finished logical call. Model and KeyIndex are the
// pair used by the last attempt.
type CallEvent struct {
	CallID    string
	SessionID string
	Roster    string
	Model     string
	KeyIndex  int
	Attempts  int
	Rounds    int
	Backoffs  []time.Duration
	Latency   time.Duration
	Err       error
}

// Observer receives call progress. Implementations must not block and
// cannot influence control flow.
type Observer interface {
	OnAttempt(AttemptEvent)
	OnCall(CallEvent)
}

// Observers fans events out to every member in order.
type Observers []Observer

func (o Observers) OnAttempt(e AttemptEvent) {
	for _, obs := range o {
		obs.OnAttempt(e)
	}
}

func (o Observers) OnCall(e CallEvent) {
	for _, obs := range o {
		obs.OnCall(e)
	}
}

type nopObserver struct{}

func (nopObserver) OnAttempt(AttemptEvent) {}
func (nopObserver) OnCall(CallEvent)       {}

type sessionKey struct{}

// WithSessionID tags every event of calls made with ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
