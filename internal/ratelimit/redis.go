package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts turns in a fixed window keyed by session. The first turn of a
// window sets the expiry.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedis(client *redis.Client, limit int, win time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: win}
}

func turnsKey(sessionID string) string {
	return "tutor:turns:" + sessionID
}

func (r *Redis) Allow(ctx context.Context, sessionID string) (Decision, error) {
	key := turnsKey(sessionID)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, r.window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("count turns: %w", err)
	}

	resetAt := time.Now().Add(r.window)
	if d := ttl.Val(); d > 0 {
		resetAt = time.Now().Add(d)
	}

	count := int(incr.Val())
	if count > r.limit {
		return Decision{Allowed: false, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: r.limit - count, ResetAt: resetAt}, nil
}

func (r *Redis) Forget(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, turnsKey(sessionID)).Err()
}
