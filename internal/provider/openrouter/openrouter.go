// Package openrouter issues single completion attempts against an
// OpenAI-compatible chat endpoint and classifies the outcome.
//
// Classification:
//   - 429                      -> retryable, rate_limited
//   - 402                      -> retryable, quota_exceeded
//   - no response in time      -> retryable, timeout
//   - transport failure        -> retryable, transient_network
//   - any other non-2xx        -> fatal, upstream_rejected (carries the body)
//   - 2xx without known text   -> fatal, unexpected_response_shape
//   - 2xx with known text      -> success
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/httputil"
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultCallTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an upstream body is carried in errors.
	maxErrorBody = 4 << 10
)

type Options struct {
	BaseURL     string
	Client      *http.Client
	CallTimeout time.Duration
	Temperature float64
	MaxTokens   int
	Routing     *domain.ProviderRouting
	Referer     string
	Title       string
}

type Executor struct {
	baseURL     string
	client      *http.Client
	callTimeout time.Duration
	temperature float64
	maxTokens   int
	routing     *domain.ProviderRouting
	referer     string
	title       string
}

func New(opts Options) *Executor {
	e := &Executor{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		client:      opts.Client,
		callTimeout: opts.CallTimeout,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		routing:     opts.Routing,
		referer:     opts.Referer,
		title:       opts.Title,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.client == nil {
		e.client = httputil.DefaultClient()
	}
	if e.callTimeout <= 0 {
		e.callTimeout = DefaultCallTimeout
	}
	return e
}

func (e *Executor) ID() string {
	return "openrouter"
}

// Attempt sends one completion request with credential as bearer auth.
// It never returns a Go error; every failure is folded into the result.
func (e *Executor) Attempt(ctx context.Context, messages []domain.Message, model, credential string) domain.AttemptResult {
	start := time.Now()
	res := e.attempt(ctx, messages, model, credential)
	res.Latency = time.Since(start)
	return res
}

func (e *Executor) attempt(ctx context.Context, messages []domain.Message, model, credential string) domain.AttemptResult {
	body, err := json.Marshal(e.buildRequest(messages, model))
	if err != nil {
		return domain.Fatal(&domain.CallError{Kind: domain.KindUpstreamRejected, Err: fmt.Errorf("marshal request: %w", err)})
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Fatal(&domain.CallError{Kind: domain.KindUpstreamRejected, Err: fmt.Errorf("create request: %w", err)})
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	if e.referer != "" {
		httpReq.Header.Set("HTTP-Referer", e.referer)
	}
	if e.title != "" {
		httpReq.Header.Set("X-Title", e.title)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return domain.Retryable(transportError(attemptCtx, err))
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadBody(resp.Body, httputil.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			return domain.Fatal(&domain.CallError{Kind: domain.KindUnexpectedResponseShape, Status: resp.StatusCode, Err: err})
		}
		return domain.Retryable(transportError(attemptCtx, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Retryable(&domain.CallError{Kind: domain.KindRateLimited, Status: resp.StatusCode, Body: snippet(respBody)})
	case resp.StatusCode == http.StatusPaymentRequired:
		return domain.Retryable(&domain.CallError{Kind: domain.KindQuotaExceeded, Status: resp.StatusCode, Body: snippet(respBody)})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.Fatal(&domain.CallError{Kind: domain.KindUpstreamRejected, Status: resp.StatusCode, Body: snippet(respBody)})
	}

	text, ok := ExtractText(respBody)
	if !ok {
		return domain.Fatal(&domain.CallError{Kind: domain.KindUnexpectedResponseShape, Status: resp.StatusCode, Body: snippet(respBody)})
	}
	return domain.Success(text)
}

func (e *Executor) buildRequest(messages []domain.Message, model string) domain.ChatRequest {
	req := domain.ChatRequest{
		Model:    model,
		Messages: messages,
		Provider: e.routing,
	}
	temperature := e.temperature
	req.Temperature = &temperature
	if e.maxTokens > 0 {
		maxTokens := e.maxTokens
		req.MaxTokens = &maxTokens
	}
	return req
}

// transportError classifies a failure that produced no usable response.
func transportError(attemptCtx context.Context, err error) *domain.CallError {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.CallError{Kind: domain.KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.CallError{Kind: domain.KindTimeout, Err: err}
	}
	return &domain.CallError{Kind: domain.KindTransientNetwork, Err: err}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
