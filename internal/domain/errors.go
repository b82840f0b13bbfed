package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPool             = errors.New("key pool is empty")
	ErrRateLimited           = errors.New("rate limited")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrTransientNetwork      = errors.New("transient network error")
	ErrTimeout               = errors.New("timeout")
	ErrUnexpectedResponse    = errors.New("unexpected response shape")
	ErrUpstreamRejected      = errors.New("upstream rejected request")
	ErrExhausted             = errors.New("all keys and models exhausted")
	ErrBusy                  = errors.New("a turn is already in flight for this session")
	ErrSessionNotFound       = errors.New("session not found")
	ErrInvalidTier           = errors.New("invalid tier")
	ErrInvalidAttachment     = errors.New("invalid attachment")
	ErrEmptyMessage          = errors.New("empty message")
	ErrRateLimitExceeded     = errors.New("turn rate limit exceeded")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrNothingToRollback     = errors.New("no message to roll back")
	ErrSystemMessagePosition = errors.New("system message must be first and unique")
)

// ErrorKind classifies a failed attempt or logical call.
type ErrorKind string

const (
	KindEmptyPool               ErrorKind = "empty_pool"
	KindRateLimited             ErrorKind = "rate_limited"
	KindQuotaExceeded           ErrorKind = "quota_exceeded"
	KindTransientNetwork        ErrorKind = "transient_network"
	KindTimeout                 ErrorKind = "timeout"
	KindUnexpectedResponseShape ErrorKind = "unexpected_response_shape"
	KindUpstreamRejected        ErrorKind = "upstream_rejected"
	KindExhausted               ErrorKind = "exhausted"
)

var kindSentinels = map[ErrorKind]error{
	KindEmptyPool:               ErrEmptyPool,
	KindRateLimited:             ErrRateLimited,
	KindQuotaExceeded:           ErrQuotaExceeded,
	KindTransientNetwork:        ErrTransientNetwork,
	KindTimeout:                 ErrTimeout,
	KindUnexpectedResponseShape: ErrUnexpectedResponse,
	KindUpstreamRejected:        ErrUpstreamRejected,
	KindExhausted:               ErrExhausted,
}

// Retryable reports whether the kind is absorbed by key/model rotation.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindQuotaExceeded, KindTransientNetwork, KindTimeout:
		return true
	}
	return false
}

// CallError carries the kind of a failure together with the upstream status
// and body when there was one.
type CallError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *CallError) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind, so callers can write
// errors.Is(err, domain.ErrExhausted).
func (e *CallError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf extracts the ErrorKind from err, or "" if err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
