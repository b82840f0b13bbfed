package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator decides whether a notification key was already sent,
// possibly by another gateway instance.
type Deduplicator interface {
	// ShouldSend marks key as sent and reports whether it was not already.
	ShouldSend(ctx context.Context, key string) bool
	Clear(ctx context.Context, keys ...string)
}

// InMemoryDeduplicator suits single-instance deployments.
type InMemoryDeduplicator struct {
	mu   sync.Mutex
	ttl  time.Duration
	sent map[string]time.Time
	now  func() time.Time
}

func NewInMemoryDeduplicator(ttl time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		ttl:  ttl,
		sent: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (d *InMemoryDeduplicator) ShouldSend(ctx context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expires, ok := d.sent[key]; ok && now.Before(expires) {
		return false
	}
	d.sent[key] = now.Add(d.ttl)
	return true
}

func (d *InMemoryDeduplicator) Clear(ctx context.Context, keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		delete(d.sent, k)
	}
}

// RedisDeduplicator shares sent markers across instances with SETNX.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) redisKey(key string) string {
	return "tutor:notify:" + key
}

// ShouldSend fails open: on a Redis error the notification goes out.
func (d *RedisDeduplicator) ShouldSend(ctx context.Context, key string) bool {
	acquired, err := d.client.SetNX(ctx, d.redisKey(key), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		slog.Warn("notification dedup check failed", "key", key, "error", err)
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) Clear(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = d.redisKey(k)
	}
	if err := d.client.Del(ctx, full...).Err(); err != nil {
		slog.Warn("failed to clear notification dedup keys", "error", err)
	}
}

// Deduped drops repeats of a notification type for the same roster. A
// breaker_open and a breaker_closed clear each other, so every transition
// is reported once.
type Deduped struct {
	next  Notifier
	dedup Deduplicator
}

func NewDeduped(next Notifier, dedup Deduplicator) *Deduped {
	return &Deduped{next: next, dedup: dedup}
}

func dedupKey(t Type, roster string) string {
	return string(t) + ":" + roster
}

func (d *Deduped) Send(ctx context.Context, n Notification) error {
	switch n.Type {
	case TypeBreakerOpen:
		d.dedup.Clear(ctx, dedupKey(TypeBreakerClosed, n.Roster))
	case TypeBreakerClosed:
		d.dedup.Clear(ctx, dedupKey(TypeBreakerOpen, n.Roster), dedupKey(TypeUpstreamExhausted, n.Roster))
	}

	if !d.dedup.ShouldSend(ctx, dedupKey(n.Type, n.Roster)) {
		slog.Debug("notification suppressed", "type", n.Type, "roster", n.Roster)
		return nil
	}
	return d.next.Send(ctx, n)
}
