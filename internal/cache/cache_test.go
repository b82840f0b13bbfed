package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestInMemory_SetAndGet(t *testing.T) {
	c := NewInMemory(0)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "hello, student", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := c.Get(ctx, "k")
	if !ok || got != "hello, student" {
		t.Errorf("Get() = %q, %v", got, ok)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Get() hit on missing key")
	}
}

func TestInMemory_Expiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewInMemory(0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)

	now = now.Add(59 * time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}

	now = now.Add(time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}

	c.removeExpired()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", c.Len())
	}
}

func TestInMemory_CloseIsIdempotent(t *testing.T) {
	c := NewInMemory(time.Millisecond)
	c.Close()
	c.Close()
}

func TestInMemory_ConcurrentAccess(t *testing.T) {
	c := NewInMemory(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(ctx, key, "v", time.Minute)
			c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
}

func TestOpeningKey(t *testing.T) {
	a := OpeningKey("free", "You are a math tutor.")

	if !strings.HasPrefix(a, "tutor:opening:") {
		t.Errorf("key %q lacks prefix", a)
	}
	if a != OpeningKey("free", "You are a math tutor.") {
		t.Error("key must be deterministic")
	}
	if a == OpeningKey("pro", "You are a math tutor.") {
		t.Error("roster must be part of the key")
	}
	if a == OpeningKey("free", "You are a physics tutor.") {
		t.Error("prompt must be part of the key")
	}
	if OpeningKey("ab", "c") == OpeningKey("a", "bc") {
		t.Error("roster and prompt must be separated")
	}
}
