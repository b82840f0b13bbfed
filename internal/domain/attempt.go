package domain

import "time"

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AttemptResult is the classified outcome of one request to the completion
// endpoint. Err is nil exactly when Outcome is OutcomeSuccess.
type AttemptResult struct {
	Outcome Outcome
	Text    string
	Err     *CallError
	Latency time.Duration
}

func Success(text string) AttemptResult {
	return AttemptResult{Outcome: OutcomeSuccess, Text: text}
}

func Retryable(err *CallError) AttemptResult {
	return AttemptResult{Outcome: OutcomeRetryable, Err: err}
}

func Fatal(err *CallError) AttemptResult {
	return AttemptResult{Outcome: OutcomeFatal, Err: err}
}

// Kind returns the failure kind, or "" on success.
func (r AttemptResult) Kind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}
