package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/cache"
	"github.com/felipepmaragno/tutor-gateway/internal/conversation"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/metrics"
	"github.com/felipepmaragno/tutor-gateway/internal/telemetry"
)

var (
	ErrNoSystemPrompt = errors.New("session has no system prompt")
	ErrAlreadyOpened  = errors.New("session already has turns")
)

// Reply is the assistant side of a successful turn.
type Reply struct {
	Text     string
	Model    string
	Attempts int
	Rounds   int
	Latency  time.Duration
	Cached   bool
}

// Stats summarizes a session.
type Stats struct {
	Turns        int
	InputTokens  int
	OutputTokens int
	// CostUSD prices every message sent upstream, not only the new turn.
	CostUSD   float64
	LastModel string
	Vision    bool
}

// Session is one tutoring conversation. At most one turn or opening call
// runs at a time; a concurrent one fails with domain.ErrBusy.
type Session struct {
	id        string
	tier      domain.Tier
	subject   string
	mode      string
	createdAt time.Time

	svc   *Service
	state *conversation.State

	busy   atomic.Bool
	vision atomic.Bool

	mu    sync.Mutex
	stats Stats
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Tier() domain.Tier    { return s.tier }
func (s *Session) Subject() string      { return s.subject }
func (s *Session) Mode() string         { return s.mode }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Busy() bool           { return s.busy.Load() }

// History returns the full, untrimmed log.
func (s *Session) History() []domain.Message {
	return s.state.Messages()
}

// Outgoing returns the capped view sent upstream on the next call.
func (s *Session) Outgoing() []domain.Message {
	return s.state.Trimmed(s.svc.cfg.HistoryCap)
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Vision = s.vision.Load()
	return st
}

// SendTurn appends the user turn, runs the resilient call and appends the
// reply. On any failure the user turn is removed again.
func (s *Session) SendTurn(ctx context.Context, text string, img *Attachment) (string, error) {
	reply, err := s.Send(ctx, text, img)
	return reply.Text, err
}

// Send is SendTurn with call details.
func (s *Session) Send(ctx context.Context, text string, img *Attachment) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" && img == nil {
		return Reply{}, domain.ErrEmptyMessage
	}
	if img != nil {
		if err := img.Validate(); err != nil {
			return Reply{}, err
		}
	}

	if !s.busy.CompareAndSwap(false, true) {
		metrics.RecordTurn(string(s.tier), "busy")
		return Reply{}, domain.ErrBusy
	}
	defer s.busy.Store(false)

	roster, err := s.svc.router.Select(s.tier, img != nil || s.vision.Load())
	if err != nil {
		return Reply{}, fmt.Errorf("select roster: %w", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "tutor.SendTurn")
	defer span.End()
	telemetry.AddTurnAttributes(span, s.id, string(s.tier), roster.Name())

	if err := s.svc.allow(ctx, roster.Name()); err != nil {
		metrics.RecordTurn(string(s.tier), "breaker_open")
		return Reply{}, err
	}

	if err := s.state.Append(userMessage(text, img)); err != nil {
		return Reply{}, fmt.Errorf("append user turn: %w", err)
	}

	outgoing := s.Outgoing()
	completion, err := s.svc.complete(ctx, s.id, roster, outgoing)
	if err != nil {
		if _, rbErr := s.state.RollbackLast(); rbErr != nil {
			slog.Error("failed to roll back user turn", "session_id", s.id, "error", rbErr)
		}
		metrics.RecordRollback()
		metrics.RecordTurn(string(s.tier), resultLabel(err))
		telemetry.AddErrorAttribute(span, err)

		slog.Warn("turn failed",
			"session_id", s.id,
			"roster", roster.Name(),
			"error", err,
		)
		return Reply{}, fmt.Errorf("send turn: %w", err)
	}

	if err := s.state.Append(domain.NewAssistantMessage(completion.Text)); err != nil {
		return Reply{}, fmt.Errorf("append assistant turn: %w", err)
	}

	// Free sessions stay on the vision roster once an image was answered so
	// later turns can refer to it.
	if img != nil && s.tier == domain.TierFree && s.svc.router.HasVision() {
		if !s.vision.Swap(true) {
			slog.Info("session switched to vision roster", "session_id", s.id)
		}
	}

	in, out := EstimateTokens(text), EstimateTokens(completion.Text)
	spent := s.record(completion.Model, outgoing, in, out, true)

	metrics.RecordTurn(string(s.tier), "success")
	telemetry.AddCompletionAttributes(span, completion.Model, completion.KeyIndex, completion.Attempts)
	telemetry.AddUsageAttributes(span, in, out, spent)

	return Reply{
		Text:     completion.Text,
		Model:    completion.Model,
		Attempts: completion.Attempts,
		Rounds:   completion.Rounds,
		Latency:  completion.Latency,
	}, nil
}

// Open asks for the opening reply to the system prompt alone and appends it
// as the first assistant turn. Replies are cached per roster and prompt.
func (s *Session) Open(ctx context.Context) (Reply, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Reply{}, domain.ErrBusy
	}
	defer s.busy.Store(false)

	system := s.state.System()
	if system == "" {
		return Reply{}, ErrNoSystemPrompt
	}
	if s.state.Len() > 1 {
		return Reply{}, ErrAlreadyOpened
	}

	roster, err := s.svc.router.Select(s.tier, s.vision.Load())
	if err != nil {
		return Reply{}, fmt.Errorf("select roster: %w", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "tutor.Open")
	defer span.End()
	telemetry.AddTurnAttributes(span, s.id, string(s.tier), roster.Name())

	key := cache.OpeningKey(roster.Name(), system)
	if text, ok := s.svc.cache.Get(ctx, key); ok {
		metrics.RecordCacheHit()
		telemetry.AddCacheAttribute(span, true)
		if err := s.state.Append(domain.NewAssistantMessage(text)); err != nil {
			return Reply{}, fmt.Errorf("append opening: %w", err)
		}
		return Reply{Text: text, Cached: true}, nil
	}
	metrics.RecordCacheMiss()
	telemetry.AddCacheAttribute(span, false)

	if err := s.svc.allow(ctx, roster.Name()); err != nil {
		return Reply{}, err
	}

	outgoing := s.Outgoing()
	completion, err := s.svc.complete(ctx, s.id, roster, outgoing)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return Reply{}, fmt.Errorf("open session: %w", err)
	}

	if err := s.svc.cache.Set(ctx, key, completion.Text, s.svc.cfg.OpeningTTL); err != nil {
		slog.Warn("failed to cache opening reply", "session_id", s.id, "error", err)
	}
	if err := s.state.Append(domain.NewAssistantMessage(completion.Text)); err != nil {
		return Reply{}, fmt.Errorf("append opening: %w", err)
	}

	out := EstimateTokens(completion.Text)
	spent := s.record(completion.Model, outgoing, 0, out, false)
	telemetry.AddCompletionAttributes(span, completion.Model, completion.KeyIndex, completion.Attempts)
	telemetry.AddUsageAttributes(span, 0, out, spent)

	return Reply{
		Text:     completion.Text,
		Model:    completion.Model,
		Attempts: completion.Attempts,
		Rounds:   completion.Rounds,
		Latency:  completion.Latency,
	}, nil
}

func (s *Session) record(model string, sent []domain.Message, in, out int, turn bool) float64 {
	billed := 0
	for _, m := range sent {
		billed += EstimateTokens(m.Content.String())
	}
	spent := s.svc.pricing.Calculate(model, billed, out)

	s.mu.Lock()
	if turn {
		s.stats.Turns++
	}
	s.stats.InputTokens += in
	s.stats.OutputTokens += out
	s.stats.CostUSD += spent
	s.stats.LastModel = model
	s.mu.Unlock()

	metrics.RecordTokens(string(s.tier), in, out)
	metrics.RecordCost(string(s.tier), spent)
	return spent
}

func resultLabel(err error) string {
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
