// Package cache stores opening replies so sessions created with the same
// system prompt on the same roster do not each spend an upstream call.
// Backends: in-memory (single instance) and Redis (shared).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// OpeningKey identifies the opening reply of a roster for a system prompt.
func OpeningKey(roster, systemPrompt string) string {
	h := sha256.New()
	h.Write([]byte(roster))
	h.Write([]byte{0})
	h.Write([]byte(systemPrompt))
	return "tutor:opening:" + hex.EncodeToString(h.Sum(nil))
}

type InMemory struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type item struct {
	value     string
	expiresAt time.Time
}

// NewInMemory starts a cache that sweeps expired entries every interval
// until Close is called.
func NewInMemory(interval time.Duration) *InMemory {
	c := &InMemory{
		items: make(map[string]item),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if interval > 0 {
		go c.sweep(interval)
	}
	return c
}

func (c *InMemory) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expiresAt) {
		return "", false
	}
	return it.value, true
}

func (c *InMemory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *InMemory) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *InMemory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *InMemory) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, key)
		}
	}
}

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get reports a miss on any Redis error.
func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

func (c *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if value == "" {
		return errors.New("cache: empty value")
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}
