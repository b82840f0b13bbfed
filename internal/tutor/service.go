// Package tutor owns tutoring sessions: their conversation log, the busy
// guard that keeps turns of one session sequential, and the policies around
// each upstream call (circuit breaker, rate limit, opening cache,
// notifications).
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/tutor-gateway/internal/cache"
	"github.com/felipepmaragno/tutor-gateway/internal/caller"
	"github.com/felipepmaragno/tutor-gateway/internal/circuitbreaker"
	"github.com/felipepmaragno/tutor-gateway/internal/conversation"
	"github.com/felipepmaragno/tutor-gateway/internal/cost"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/metrics"
	"github.com/felipepmaragno/tutor-gateway/internal/notifications"
	"github.com/felipepmaragno/tutor-gateway/internal/ratelimit"
	"github.com/felipepmaragno/tutor-gateway/internal/repository"
	"github.com/felipepmaragno/tutor-gateway/internal/router"
)

const (
	DefaultHistoryCap = 25
	DefaultOpeningTTL = 24 * time.Hour
)

// Completer runs one logical completion call against a roster.
type Completer interface {
	Call(ctx context.Context, messages []domain.Message, models *router.Roster) (domain.Completion, error)
}

type Config struct {
	HistoryCap  int
	OpeningTTL  time.Duration
	ModePrompts map[string]string
}

type Deps struct {
	Caller   Completer
	Router   *router.Router
	Sessions repository.SessionRepository[*Session]
	Breakers *circuitbreaker.Set
	Limiter  ratelimit.Limiter
	Cache    cache.Cache
	Notifier notifications.Notifier
	Pricing  *cost.Calculator
}

type Service struct {
	cfg      Config
	caller   Completer
	router   *router.Router
	sessions repository.SessionRepository[*Session]
	breakers *circuitbreaker.Set
	limiter  ratelimit.Limiter
	cache    cache.Cache
	notifier notifications.Notifier
	pricing  *cost.Calculator
}

// NewService fills unset optional dependencies with in-memory or no-op
// implementations. Caller and Router are required.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.HistoryCap < 1 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.OpeningTTL <= 0 {
		cfg.OpeningTTL = DefaultOpeningTTL
	}

	svc := &Service{
		cfg:      cfg,
		caller:   deps.Caller,
		router:   deps.Router,
		sessions: deps.Sessions,
		breakers: deps.Breakers,
		limiter:  deps.Limiter,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		pricing:  deps.Pricing,
	}
	if svc.sessions == nil {
		svc.sessions = repository.NewInMemorySessions[*Session]()
	}
	if svc.breakers == nil {
		svc.breakers = circuitbreaker.NewSet(circuitbreaker.DefaultConfig())
	}
	if svc.limiter == nil {
		svc.limiter = ratelimit.Unlimited{}
	}
	if svc.cache == nil {
		svc.cache = cache.NewInMemory(0)
	}
	if svc.notifier == nil {
		svc.notifier = notifications.Nop{}
	}
	if svc.pricing == nil {
		svc.pricing = cost.NewCalculator()
	}
	return svc
}

func (svc *Service) Router() *router.Router               { return svc.router }
func (svc *Service) Breakers() *circuitbreaker.Set        { return svc.breakers }
func (svc *Service) HistoryCap() int                      { return svc.cfg.HistoryCap }
func (svc *Service) SessionCount(ctx context.Context) int { return svc.sessions.Count(ctx) }

type CreateParams struct {
	Subject string
	Mode    string
	Prompt  string
	Tier    domain.Tier
	Open    bool
}

// Create registers a new session. With Open set it also fetches the opening
// reply; if that fails the session is kept and the error returned alongside.
func (svc *Service) Create(ctx context.Context, p CreateParams) (*Session, Reply, error) {
	tier := p.Tier
	if tier == "" {
		tier = domain.TierFree
	}
	if _, err := svc.router.Select(tier, false); err != nil {
		return nil, Reply{}, fmt.Errorf("create session: %w", err)
	}

	system := ComposeSystemPrompt(svc.cfg.ModePrompts[p.Mode], p.Subject, p.Prompt)
	s := &Session{
		id:        uuid.NewString(),
		tier:      tier,
		subject:   p.Subject,
		mode:      p.Mode,
		createdAt: time.Now(),
		svc:       svc,
		state:     conversation.NewWithSystem(system),
	}

	if err := svc.sessions.Put(ctx, s.id, s); err != nil {
		return nil, Reply{}, fmt.Errorf("store session: %w", err)
	}
	metrics.ActiveSessions.Inc()
	slog.Info("session created", "session_id", s.id, "tier", tier, "mode", p.Mode)

	if !p.Open {
		return s, Reply{}, nil
	}
	opening, err := s.Open(ctx)
	if err != nil {
		return s, Reply{}, err
	}
	return s, opening, nil
}

func (svc *Service) Get(ctx context.Context, id string) (*Session, error) {
	return svc.sessions.Get(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	if err := svc.sessions.Delete(ctx, id); err != nil {
		return err
	}
	metrics.ActiveSessions.Dec()
	if err := svc.limiter.Forget(ctx, id); err != nil {
		slog.Warn("failed to clear turn limit", "session_id", id, "error", err)
	}
	return nil
}

// RateLimitError reports a turn rejected by the per-session limit.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", domain.ErrRateLimitExceeded, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimitExceeded }

// Turn applies the per-session rate limit and sends a turn.
func (svc *Service) Turn(ctx context.Context, id, text string, img *Attachment) (Reply, error) {
	s, err := svc.sessions.Get(ctx, id)
	if err != nil {
		return Reply{}, err
	}

	decision, err := svc.limiter.Allow(ctx, id)
	switch {
	case err != nil:
		slog.Warn("rate limiter unavailable, allowing turn", "session_id", id, "error", err)
	case !decision.Allowed:
		metrics.RecordRateLimitHit()
		return Reply{}, &RateLimitError{ResetAt: decision.ResetAt}
	}

	return s.Send(ctx, text, img)
}

func (svc *Service) allow(ctx context.Context, roster string) error {
	if err := svc.breakers.Get(roster).Allow(ctx); err != nil {
		return fmt.Errorf("roster %s: %w", roster, err)
	}
	return nil
}

// complete runs the call and feeds its outcome to the roster's breaker.
// Only exhaustion counts as a breaker failure; a rejected request says
// nothing about upstream health.
func (svc *Service) complete(ctx context.Context, sessionID string, roster *router.Roster, messages []domain.Message) (domain.Completion, error) {
	ctx = caller.WithSessionID(ctx, sessionID)
	breaker := svc.breakers.Get(roster.Name())

	completion, err := svc.caller.Call(ctx, messages, roster)
	switch {
	case err == nil:
		before := breaker.State(ctx)
		after := breaker.RecordSuccess(ctx)
		svc.breakerChanged(ctx, roster.Name(), before, after)
	case errors.Is(err, domain.ErrExhausted):
		before := breaker.State(ctx)
		after := breaker.RecordFailure(ctx)
		svc.notify(ctx, notifications.Notification{
			Type:      notifications.TypeUpstreamExhausted,
			Roster:    roster.Name(),
			SessionID: sessionID,
			Message:   err.Error(),
		})
		svc.breakerChanged(ctx, roster.Name(), before, after)
	}
	return completion, err
}

func (svc *Service) breakerChanged(ctx context.Context, roster string, before, after circuitbreaker.State) {
	metrics.SetCircuitBreakerState(roster, int(after))
	if before == after {
		return
	}

	slog.Warn("circuit breaker state changed", "roster", roster, "from", before.String(), "to", after.String())
	switch after {
	case circuitbreaker.StateOpen:
		svc.notify(ctx, notifications.Notification{
			Type:    notifications.TypeBreakerOpen,
			Roster:  roster,
			Message: "upstream circuit breaker opened",
		})
	case circuitbreaker.StateClosed:
		svc.notify(ctx, notifications.Notification{
			Type:    notifications.TypeBreakerClosed,
			Roster:  roster,
			Message: "upstream circuit breaker closed",
		})
	}
}

func (svc *Service) notify(ctx context.Context, n notifications.Notification) {
	if err := svc.notifier.Send(ctx, n); err != nil {
		slog.Error("failed to send notification", "type", n.Type, "error", err)
	}
}
