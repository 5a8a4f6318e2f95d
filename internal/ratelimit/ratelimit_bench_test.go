package ratelimit

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkInMemoryLimiter_Allow(b *testing.B) {
	rl := NewInMemory()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow(ctx, "openai", "gpt-4o", 10000)
	}
}

func BenchmarkInMemoryLimiter_Allow_Parallel(b *testing.B) {
	rl := NewInMemory()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rl.Allow(ctx, "openai", "gpt-4o", 10000)
		}
	})
}

func BenchmarkInMemoryLimiter_ManyModels(b *testing.B) {
	rl := NewInMemory()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			model := fmt.Sprintf("model-%d", i%100)
			rl.Allow(ctx, "openai", model, 1000)
			i++
		}
	})
}
