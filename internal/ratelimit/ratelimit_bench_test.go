package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkInMemory_Allow(b *testing.B) {
	rl := NewInMemory(1<<30, time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow(ctx, "session-1")
	}
}

func BenchmarkInMemory_ManySessions(b *testing.B) {
	rl := NewInMemory(1<<30, time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			rl.Allow(ctx, fmt.Sprintf("session-%d", i%100))
			i++
		}
	})
}
