package circuitbreaker

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

// transitionScript applies one operation to a breaker hash and returns the
// resulting state. The hash holds state, failures, successes and
// last_failure (unix seconds from the Redis clock).
//
// KEYS[1] breaker hash
// ARGV[1] op: allow | success | failure
// ARGV[2] failure threshold
// ARGV[3] success threshold
// ARGV[4] cooldown seconds
var transitionScript = redis.NewScript(`
local key = KEYS[1]
local op = ARGV[1]
local state = redis.call('HGET', key, 'state') or 'closed'
local now = tonumber(redis.call('TIME')[1])

if op == 'allow' then
    if state == 'open' then
        local last = tonumber(redis.call('HGET', key, 'last_failure') or '0')
        if now - last >= tonumber(ARGV[4]) then
            redis.call('HSET', key, 'state', 'half-open', 'successes', 0)
            return 'half-open'
        end
    end
    return state
end

if op == 'success' then
    if state == 'closed' then
        redis.call('HSET', key, 'failures', 0)
    elseif state == 'half-open' then
        local successes = redis.call('HINCRBY', key, 'successes', 1)
        if successes >= tonumber(ARGV[3]) then
            redis.call('HSET', key, 'state', 'closed', 'failures', 0, 'successes', 0)
            return 'closed'
        end
    end
    return state
end

redis.call('HSET', key, 'last_failure', now)
if state == 'closed' then
    local failures = redis.call('HINCRBY', key, 'failures', 1)
    if failures >= tonumber(ARGV[2]) then
        redis.call('HSET', key, 'state', 'open')
        return 'open'
    end
elseif state == 'half-open' then
    redis.call('HSET', key, 'state', 'open', 'successes', 0)
    return 'open'
end
return state
`)

// Redis is a breaker whose state lives in Redis so every gateway instance
// sees the same upstream health. Redis errors fail open.
type Redis struct {
	client *redis.Client
	key    string
	config Config
}

func NewRedis(client *redis.Client, name string, cfg Config) *Redis {
	return &Redis{
		client: client,
		key:    "tutor:breaker:" + name,
		config: cfg,
	}
}

// RedisFactory builds Redis breakers sharing one client, for WithFactory.
func RedisFactory(client *redis.Client, cfg Config) func(name string) Breaker {
	return func(name string) Breaker {
		return NewRedis(client, name, cfg)
	}
}

func (b *Redis) run(ctx context.Context, op string) (State, error) {
	args := []interface{}{
		op,
		b.config.FailureThreshold,
		b.config.SuccessThreshold,
		int(b.config.Cooldown.Seconds()),
	}
	result, err := transitionScript.Run(ctx, b.client, []string{b.key}, args...).Text()
	if err != nil {
		slog.Warn("circuit breaker redis error", "breaker", b.key, "op", op, "error", err)
		return StateClosed, err
	}
	return parseState(result), nil
}

func (b *Redis) Allow(ctx context.Context) error {
	state, err := b.run(ctx, "allow")
	if err != nil {
		return nil
	}
	if state == StateOpen {
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

func (b *Redis) RecordSuccess(ctx context.Context) State {
	state, _ := b.run(ctx, "success")
	return state
}

func (b *Redis) RecordFailure(ctx context.Context) State {
	state, _ := b.run(ctx, "failure")
	return state
}

func (b *Redis) State(ctx context.Context) State {
	result, err := b.client.HGet(ctx, b.key, "state").Result()
	if err != nil {
		return StateClosed
	}
	return parseState(result)
}

// Reset closes the breaker.
func (b *Redis) Reset(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}
