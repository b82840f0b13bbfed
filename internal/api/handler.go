package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/keypool"
	"github.com/felipepmaragno/tutor-gateway/internal/telemetry"
	"github.com/felipepmaragno/tutor-gateway/internal/tutor"
)

const maxBodyBytes = 8 << 20

type HandlerConfig struct {
	Service      *tutor.Service
	Keys         *keypool.Pool
	Checkers     []HealthChecker
	ReadyTimeout time.Duration
	Version      string
}

type Handler struct {
	service *tutor.Service
	keys    *keypool.Pool
	version string
	mux     *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 2 * time.Second
	}

	h := &Handler{
		service: cfg.Service,
		keys:    cfg.Keys,
		version: cfg.Version,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/sessions", h.handleCreateSession)
	h.mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	h.mux.HandleFunc("DELETE /v1/sessions/{id}", h.handleDeleteSession)
	h.mux.HandleFunc("POST /v1/sessions/{id}/turns", h.handleTurn)
	h.mux.HandleFunc("POST /v1/sessions/{id}/open", h.handleOpen)
	h.mux.HandleFunc("GET /v1/sessions/{id}/history", h.handleHistory)
	h.mux.HandleFunc("POST /v1/lessons", h.handleLesson)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, readyTimeout, cfg.Version))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)
	h.mux.ServeHTTP(w, r)
}

type CreateSessionRequest struct {
	Subject string `json:"subject"`
	Mode    string `json:"mode"`
	Prompt  string `json:"prompt"`
	Tier    string `json:"tier"`
	Open    bool   `json:"open"`
}

type CreateSessionResponse struct {
	ID           string `json:"id"`
	Tier         string `json:"tier"`
	Opening      string `json:"opening,omitempty"`
	OpeningError string `json:"opening_error,omitempty"`
}

type TurnRequest struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

type TurnResponse struct {
	Response  string `json:"response"`
	Model     string `json:"model,omitempty"`
	Attempts  int    `json:"attempts"`
	Rounds    int    `json:"rounds"`
	LatencyMs int64  `json:"latency_ms"`
	Cached    bool   `json:"cached,omitempty"`
}

type SessionResponse struct {
	ID           string    `json:"id"`
	Tier         string    `json:"tier"`
	Subject      string    `json:"subject"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	Turns        int       `json:"turns"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"estimated_cost_usd"`
	LastModel    string    `json:"last_model,omitempty"`
	Vision       bool      `json:"vision"`
	Busy         bool      `json:"busy"`
}

type HistoryResponse struct {
	ID         string           `json:"id"`
	Messages   []domain.Message `json:"messages"`
	Outgoing   int              `json:"outgoing"`
	HistoryCap int              `json:"history_cap"`
}

type LessonRequest struct {
	Topic  string `json:"topic"`
	Slides int    `json:"slides,omitempty"`
	Tier   string `json:"tier"`
}

type LessonResponse struct {
	Name      string        `json:"name"`
	Slides    []tutor.Slide `json:"slides"`
	Model     string        `json:"model,omitempty"`
	Attempts  int           `json:"attempts"`
	Rounds    int           `json:"rounds"`
	LatencyMs int64         `json:"latency_ms"`
}

type RosterResponse struct {
	Name    string   `json:"name"`
	Models  []string `json:"models"`
	Current string   `json:"current"`
	Cursor  int      `json:"cursor"`
	Fixed   bool     `json:"fixed"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	session, opening, err := h.service.Create(ctx, tutor.CreateParams{
		Subject: req.Subject,
		Mode:    req.Mode,
		Prompt:  req.Prompt,
		Tier:    tier,
		Open:    req.Open,
	})
	if session == nil {
		writeDomainError(w, r, err)
		return
	}

	resp := CreateSessionResponse{
		ID:      session.ID(),
		Tier:    string(session.Tier()),
		Opening: opening.Text,
	}
	if err != nil {
		resp.OpeningError = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	stats := session.Stats()
	writeJSON(w, http.StatusOK, SessionResponse{
		ID:           session.ID(),
		Tier:         string(session.Tier()),
		Subject:      session.Subject(),
		Mode:         session.Mode(),
		CreatedAt:    session.CreatedAt(),
		Turns:        stats.Turns,
		InputTokens:  stats.InputTokens,
		OutputTokens: stats.OutputTokens,
		CostUSD:      stats.CostUSD,
		LastModel:    stats.LastModel,
		Vision:       stats.Vision,
		Busy:         session.Busy(),
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var img *tutor.Attachment
	if req.Image != "" {
		a, err := tutor.DecodeAttachment(req.Image)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		img = a
	}

	reply, err := h.service.Turn(ctx, id, req.Message, img)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("turn completed",
		"request_id", w.Header().Get("X-Request-ID"),
		"session_id", id,
		"model", reply.Model,
		"attempts", reply.Attempts,
		"latency_ms", reply.Latency.Milliseconds(),
		"trace_id", telemetry.GetTraceID(ctx),
	)
	writeJSON(w, http.StatusOK, turnResponse(reply))
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	reply, err := session.Open(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse(reply))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		ID:         session.ID(),
		Messages:   session.History(),
		Outgoing:   len(session.Outgoing()),
		HistoryCap: h.service.HistoryCap(),
	})
}

func (h *Handler) handleLesson(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LessonRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	deck, reply, err := h.service.Lesson(ctx, tutor.LessonParams{
		Topic:  req.Topic,
		Slides: req.Slides,
		Tier:   tier,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("lesson generated",
		"request_id", w.Header().Get("X-Request-ID"),
		"slides", len(deck.Slides),
		"model", reply.Model,
		"attempts", reply.Attempts,
		"trace_id", telemetry.GetTraceID(ctx),
	)
	writeJSON(w, http.StatusOK, LessonResponse{
		Name:      deck.Name,
		Slides:    deck.Slides,
		Model:     reply.Model,
		Attempts:  reply.Attempts,
		Rounds:    reply.Rounds,
		LatencyMs: reply.Latency.Milliseconds(),
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	rosters := h.service.Router().Rosters()
	data := make([]RosterResponse, 0, len(rosters))
	for _, roster := range rosters {
		data = append(data, RosterResponse{
			Name:    roster.Name(),
			Models:  roster.Models(),
			Current: roster.Current(),
			Cursor:  roster.Cursor(),
			Fixed:   roster.Fixed(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	keys := 0
	if h.keys != nil {
		keys = h.keys.Len()
	}
	if keys == 0 {
		status = "degraded"
	}

	breakers := h.service.Breakers().States(ctx)
	for _, state := range breakers {
		if state != "closed" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"version":          h.version,
		"keys":             keys,
		"sessions":         h.service.SessionCount(ctx),
		"circuit_breakers": breakers,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func turnResponse(reply tutor.Reply) TurnResponse {
	return TurnResponse{
		Response:  reply.Text,
		Model:     reply.Model,
		Attempts:  reply.Attempts,
		Rounds:    reply.Rounds,
		LatencyMs: reply.Latency.Milliseconds(),
		Cached:    reply.Cached,
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy), errors.Is(err, tutor.ErrAlreadyOpened):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCircuitBreakerOpen), errors.Is(err, domain.ErrEmptyPool):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidAttachment),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidTier),
		errors.Is(err, tutor.ErrNoSystemPrompt),
		errors.Is(err, tutor.ErrInvalidLesson):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrExhausted):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpstreamRejected),
		errors.Is(err, domain.ErrUnexpectedResponse),
		errors.Is(err, tutor.ErrMalformedDeck):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var rle *tutor.RateLimitError
	if errors.As(err, &rle) {
		secs := int(time.Until(rle.ResetAt).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}

	errType := "error"
	if kind := domain.KindOf(err); kind != "" {
		errType = string(kind)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
