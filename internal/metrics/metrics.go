package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felipepmaragno/tutor-gateway/internal/caller"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_attempts_total",
			Help: "Completion attempts by outcome and failure kind",
		},
		[]string{"roster", "model", "outcome", "kind"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorgateway_attempt_duration_seconds",
			Help:    "Duration of single completion attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"roster", "model"},
	)

	RotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_rotations_total",
			Help: "Key and model rotations",
		},
		[]string{"roster", "axis"},
	)

	BackoffSleepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_backoff_sleeps_total",
			Help: "Backoff sleeps between retry rounds",
		},
		[]string{"roster"},
	)

	BackoffSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_backoff_seconds_total",
			Help: "Time spent sleeping between retry rounds",
		},
		[]string{"roster"},
	)

	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_calls_total",
			Help: "Logical completion calls by result",
		},
		[]string{"roster", "result"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorgateway_call_duration_seconds",
			Help:    "Duration of logical completion calls including retries",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"roster"},
	)

	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorgateway_rollbacks_total",
			Help: "User turns removed after a failed call",
		},
	)

	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_turns_total",
			Help: "Session turns by result",
		},
		[]string{"tier", "result"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_estimated_tokens_total",
			Help: "Estimated tokens (word counts) exchanged",
		},
		[]string{"tier", "type"},
	)

	EstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgateway_estimated_cost_usd_total",
			Help: "Estimated upstream spend in USD",
		},
		[]string{"tier"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorgateway_opening_cache_hits_total",
			Help: "Opening replies served from cache",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorgateway_opening_cache_misses_total",
			Help: "Opening replies that needed an upstream call",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tutorgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"roster"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorgateway_rate_limit_hits_total",
			Help: "Turns rejected by the per-session rate limit",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorgateway_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)

	KeyPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorgateway_key_pool_size",
			Help: "Credentials loaded into the key pool",
		},
	)
)

// Observer feeds caller events into the collectors above.
type Observer struct{}

func (Observer) OnAttempt(e caller.AttemptEvent) {
	kind := string(e.Kind)
	if kind == "" {
		kind = "none"
	}
	AttemptsTotal.WithLabelValues(e.Roster, e.Model, e.Outcome.String(), kind).Inc()
	AttemptDuration.WithLabelValues(e.Roster, e.Model).Observe(e.Latency.Seconds())

	switch e.Next {
	case caller.StateRotatingKey:
		RotationsTotal.WithLabelValues(e.Roster, "key").Inc()
	case caller.StateRotatingModel:
		RotationsTotal.WithLabelValues(e.Roster, "model").Inc()
	}
}

func (Observer) OnCall(e caller.CallEvent) {
	CallsTotal.WithLabelValues(e.Roster, callResult(e.Err)).Inc()
	CallDuration.WithLabelValues(e.Roster).Observe(e.Latency.Seconds())

	for _, d := range e.Backoffs {
		BackoffSleepsTotal.WithLabelValues(e.Roster).Inc()
		BackoffSeconds.WithLabelValues(e.Roster).Add(d.Seconds())
	}
}

func callResult(err error) string {
	if err == nil {
		return "success"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func RecordTurn(tier, result string) {
	TurnsTotal.WithLabelValues(tier, result).Inc()
}

func RecordTokens(tier string, input, output int) {
	TokensTotal.WithLabelValues(tier, "input").Add(float64(input))
	TokensTotal.WithLabelValues(tier, "output").Add(float64(output))
}

func RecordCost(tier string, usd float64) {
	if usd > 0 {
		EstimatedCostUSD.WithLabelValues(tier).Add(usd)
	}
}

func RecordRollback() {
	RollbacksTotal.Inc()
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}

func SetCircuitBreakerState(roster string, state int) {
	CircuitBreakerState.WithLabelValues(roster).Set(float64(state))
}
