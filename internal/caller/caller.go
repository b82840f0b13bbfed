// Package caller turns many completion attempts into one logical call.
//
// Within a round every key is tried against the current model before the
// model rotates, and every model is tried before the round ends. Rounds are
// separated by exponential backoff sleeps; after the last round the call
// fails with an exhausted error. Fatal attempt results end the call at once
// without consuming a round.
package caller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/keypool"
	"github.com/felipepmaragno/tutor-gateway/internal/router"
	"github.com/felipepmaragno/tutor-gateway/internal/telemetry"
)

const (
	DefaultMaxRetryRounds = 3
	DefaultBaseBackoff    = 2 * time.Second
)

// Executor performs a single classified attempt.
type Executor interface {
	Attempt(ctx context.Context, messages []domain.Message, model, credential string) domain.AttemptResult
}

type Options struct {
	// MaxRetryRounds is the number of full key x model sweeps, including the
	// first one.
	MaxRetryRounds int
	// BaseBackoff is the first delay between rounds; zero or negative means
	// DefaultBaseBackoff.
	BaseBackoff time.Duration

	// RetryStatuses lists upstream statuses that rotate the model instead of
	// failing the call.
	RetryStatuses []int

	Sleeper  Sleeper
	Observer Observer
}

type Caller struct {
	exec          Executor
	keys          *keypool.Pool
	maxRounds     int
	baseBackoff   time.Duration
	retryStatuses []int
	sleeper       Sleeper
	observer      Observer
}

func New(exec Executor, keys *keypool.Pool, opts Options) *Caller {
	c := &Caller{
		exec:          exec,
		keys:          keys,
		maxRounds:     opts.MaxRetryRounds,
		baseBackoff:   opts.BaseBackoff,
		retryStatuses: slices.Clone(opts.RetryStatuses),
		sleeper:       opts.Sleeper,
		observer:      opts.Observer,
	}
	if c.maxRounds < 1 {
		c.maxRounds = DefaultMaxRetryRounds
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = DefaultBaseBackoff
	}
	if c.sleeper == nil {
		c.sleeper = timerSleeper{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c
}

func (c *Caller) Keys() *keypool.Pool {
	return c.keys
}

// Call runs one logical completion call of messages against models.
// Returned errors are *domain.CallError of kind empty_pool, upstream_rejected,
// unexpected_response_shape, timeout (caller cancelled) or exhausted.
func (c *Caller) Call(ctx context.Context, messages []domain.Message, models *router.Roster) (domain.Completion, error) {
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "caller.Call",
		trace.WithAttributes(attribute.String("roster", models.Name())))
	defer span.End()

	event := CallEvent{
		CallID:    uuid.NewString(),
		SessionID: SessionIDFrom(ctx),
		Roster:    models.Name(),
		KeyIndex:  -1,
	}
	completion, err := c.call(ctx, span, messages, models, &event)

	event.Latency = time.Since(start)
	event.Err = err
	c.observer.OnCall(event)

	span.SetAttributes(
		attribute.Int("attempts", event.Attempts),
		attribute.Int("rounds", event.Rounds),
	)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return domain.Completion{}, err
	}

	completion.Latency = event.Latency
	return completion, nil
}

func (c *Caller) call(ctx context.Context, span trace.Span, messages []domain.Message, models *router.Roster, event *CallEvent) (domain.Completion, error) {
	if c.keys.Len() == 0 {
		return domain.Completion{}, &domain.CallError{Kind: domain.KindEmptyPool, Err: domain.ErrEmptyPool}
	}
	if models.Len() == 0 {
		return domain.Completion{}, fmt.Errorf("call %s: %w", models.Name(), router.ErrEmptyRoster)
	}

	schedule := newSchedule(c.baseBackoff)
	var last error

	for round := 0; round < c.maxRounds; round++ {
		if round > 0 {
			delay := schedule.NextBackOff()
			event.Backoffs = append(event.Backoffs, delay)

			slog.Warn("every key and model failed, backing off",
				"roster", models.Name(),
				"round", round,
				"delay", delay,
				"error", last,
			)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return domain.Completion{}, &domain.CallError{Kind: domain.KindTimeout, Err: fmt.Errorf("backoff interrupted: %w", err)}
			}
		}
		event.Rounds = round + 1

		keySweep := c.keys.StartSweep()
		modelSweep := models.StartSweep()

	sweep:
		for {
			keyIndex, key, err := keySweep.Selected()
			if err != nil {
				return domain.Completion{}, &domain.CallError{Kind: domain.KindEmptyPool, Err: err}
			}
			model := modelSweep.Current()

			res := c.exec.Attempt(ctx, messages, model, key)
			event.Attempts++
			event.Model = model
			event.KeyIndex = keyIndex

			next := c.next(ctx, res, keySweep, modelSweep, round == c.maxRounds-1)
			c.report(span, AttemptEvent{
				CallID:    event.CallID,
				SessionID: event.SessionID,
				Roster:    models.Name(),
				Model:     model,
				KeyIndex:  keyIndex,
				Round:     round,
				Attempt:   event.Attempts,
				Outcome:   res.Outcome,
				Kind:      res.Kind(),
				Status:    status(res),
				Latency:   res.Latency,
				Next:      next,
			})

			switch next {
			case StateSucceeded:
				return domain.Completion{
					Text:     res.Text,
					Model:    model,
					KeyIndex: keyIndex,
					Attempts: event.Attempts,
					Rounds:   event.Rounds,
				}, nil
			case StateFailed:
				return domain.Completion{}, res.Err
			case StateAborted:
				return domain.Completion{}, &domain.CallError{Kind: domain.KindTimeout, Err: fmt.Errorf("call cancelled: %w", ctx.Err())}
			case StateRotatingKey:
				last = res.Err
			case StateRotatingModel:
				last = res.Err
				keySweep = c.keys.StartSweep()
			default:
				last = res.Err
				break sweep
			}
		}
	}

	return domain.Completion{}, &domain.CallError{
		Kind: domain.KindExhausted,
		Err:  fmt.Errorf("%d attempts over %d rounds, last: %v", event.Attempts, event.Rounds, last),
	}
}

// next decides the transition after an attempt and performs the rotation it
// implies. Keys rotate before models and models before a backoff.
func (c *Caller) next(ctx context.Context, res domain.AttemptResult, keys *keypool.Sweep, models *router.Sweep, lastRound bool) State {
	switch {
	case res.Outcome == domain.OutcomeSuccess:
		return StateSucceeded
	case ctx.Err() != nil:
		return StateAborted
	case res.Outcome == domain.OutcomeFatal && !c.rotatesModel(res.Err):
		return StateFailed
	case res.Outcome == domain.OutcomeRetryable:
		if keys.Advance() && !keys.HasWrapped() {
			return StateRotatingKey
		}
	}

	if models.Advance() && !models.HasWrapped() {
		return StateRotatingModel
	}
	if lastRound {
		return StateExhausted
	}
	return StateBackoff
}

// rotatesModel reports whether a fatal attempt should move on to the next
// model. No other key can fix these, so the key sweep is skipped.
func (c *Caller) rotatesModel(err *domain.CallError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case domain.KindUnexpectedResponseShape:
		return true
	case domain.KindUpstreamRejected:
		return slices.Contains(c.retryStatuses, err.Status)
	}
	return false
}

func (c *Caller) report(span trace.Span, e AttemptEvent) {
	span.AddEvent("attempt", trace.WithAttributes(
		attribute.String("model", e.Model),
		attribute.Int("key.index", e.KeyIndex),
		attribute.Int("round", e.Round),
		attribute.String("outcome", e.Outcome.String()),
		attribute.String("next", string(e.Next)),
	))

	if e.Outcome != domain.OutcomeSuccess {
		slog.Debug("attempt failed",
			"roster", e.Roster,
			"model", e.Model,
			"key_index", e.KeyIndex,
			"attempt", e.Attempt,
			"round", e.Round,
			"kind", e.Kind,
			"status", e.Status,
			"next", e.Next,
		)
	}

	c.observer.OnAttempt(e)
}

func status(res domain.AttemptResult) int {
	if res.Err == nil {
		return 0
	}
	return res.Err.Status
}
