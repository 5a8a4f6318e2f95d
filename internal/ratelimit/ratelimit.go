// Package ratelimit enforces per-model requests-per-minute limits using a
// sliding window. Limits come from the catalog; the key is the
// provider/model pair, so a noisy model cannot starve its provider's other
// models. In-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether one more request to the given provider/model pair
// fits inside the current window. A limit of zero or less means unlimited.
type Limiter interface {
	Allow(ctx context.Context, provider, model string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// InMemoryLimiter keeps one fixed window per provider/model pair. Suitable
// for single-instance deployments.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory() *InMemoryLimiter {
	return &InMemoryLimiter{
		windows: make(map[string]*window),
	}
}

func (r *InMemoryLimiter) Allow(ctx context.Context, provider, model string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, 0, time.Time{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := windowKey(provider, model)

	w, ok := r.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{
			count:   0,
			resetAt: now.Add(time.Minute),
		}
		r.windows[key] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt, nil
	}

	w.count++
	remaining := limit - w.count

	return true, remaining, w.resetAt, nil
}

func windowKey(provider, model string) string {
	return provider + ":" + model
}
