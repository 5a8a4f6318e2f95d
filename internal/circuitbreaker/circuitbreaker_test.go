package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentboard/provider-gateway/internal/domain"
)

func TestBreaker_StartsClosed(t *testing.T) {
	cb := NewInMemory("openai", DefaultConfig())
	ctx := context.Background()

	if cb.State(ctx) != StateClosed {
		t.Errorf("expected StateClosed, got %v", cb.State(ctx))
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
	}
	cb := NewInMemory("openai", cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}

	if cb.State(ctx) != StateOpen {
		t.Errorf("expected StateOpen after %d failures, got %v", cfg.FailureThreshold, cb.State(ctx))
	}
}

func TestBreaker_BlocksWhenOpen(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          1 * time.Second,
	}
	cb := NewInMemory("openai", cfg)
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	err := cb.Allow(ctx)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_TransitionsToHalfOpen(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewInMemory("openai", cfg)
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	time.Sleep(60 * time.Millisecond)

	err := cb.Allow(ctx)
	if err != nil {
		t.Errorf("expected nil after timeout, got %v", err)
	}

	if cb.State(ctx) != StateHalfOpen {
		t.Errorf("expected StateHalfOpen, got %v", cb.State(ctx))
	}
}

func TestBreaker_ClosesAfterSuccessInHalfOpen(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewInMemory("openai", cfg)
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	time.Sleep(60 * time.Millisecond)
	cb.Allow(ctx)

	cb.RecordSuccess(ctx)
	cb.RecordSuccess(ctx)

	if cb.State(ctx) != StateClosed {
		t.Errorf("expected StateClosed after successes, got %v", cb.State(ctx))
	}
}

func TestBreaker_ReopensOnFailureInHalfOpen(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewInMemory("openai", cfg)
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	time.Sleep(60 * time.Millisecond)
	cb.Allow(ctx)

	cb.RecordFailure(ctx)

	if cb.State(ctx) != StateOpen {
		t.Errorf("expected StateOpen after failure in half-open, got %v", cb.State(ctx))
	}
}

func TestManager_GetCreatesBreaker(t *testing.T) {
	m := NewManager(DefaultConfig())

	cb1 := m.Get("openai")
	cb2 := m.Get("openai")

	if cb1 != cb2 {
		t.Error("expected same breaker instance for same provider")
	}

	cb3 := m.Get("anthropic")
	if cb1 == cb3 {
		t.Error("expected different breaker for different provider")
	}
}

func TestManager_States(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	ctx := context.Background()

	m.Get("openai")
	m.Get("fal").RecordFailure(ctx)

	states := m.States()
	if states["openai"] != "closed" {
		t.Errorf("openai state = %q, want closed", states["openai"])
	}
	if states["fal"] != "open" {
		t.Errorf("fal state = %q, want open", states["fal"])
	}
}
