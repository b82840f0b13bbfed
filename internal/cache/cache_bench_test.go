package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func BenchmarkInMemory_GetHit(b *testing.B) {
	c := NewInMemory(0)
	ctx := context.Background()
	key := OpeningKey("free", "You are a patient tutor.")
	c.Set(ctx, key, "Hi! What shall we study today?", 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(ctx, key)
	}
}

func BenchmarkOpeningKey(b *testing.B) {
	prompt := strings.Repeat("You are a patient tutor. ", 40)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		OpeningKey("free", prompt)
	}
}
