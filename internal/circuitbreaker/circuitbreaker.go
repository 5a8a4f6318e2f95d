// Package circuitbreaker protects the gateway from unhealthy upstream
// providers by failing fast once a provider keeps erroring. There is no
// fallback routing: an open circuit surfaces as an error, never as a silent
// switch to a different vendor.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, requests fail immediately
//   - Half-Open: testing recovery, limited requests allowed
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/metrics"
)

// Breaker is one provider's circuit. Both the in-memory and the Redis
// implementation satisfy it.
type Breaker interface {
	// Allow returns nil if the request may proceed, domain.ErrCircuitOpen
	// if the circuit is open.
	Allow(ctx context.Context) error

	// RecordSuccess notes a successful upstream call. In half-open state,
	// enough successes close the circuit.
	RecordSuccess(ctx context.Context)

	// RecordFailure notes a failed upstream call. Enough failures open
	// the circuit.
	RecordFailure(ctx context.Context)

	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes to close from half-open
	Timeout          time.Duration // time before transitioning to half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// InMemoryBreaker tracks one provider's health in process memory. Suitable
// for single-instance deployments.
type InMemoryBreaker struct {
	mu          sync.RWMutex
	provider    string
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func NewInMemory(provider string, cfg Config) *InMemoryBreaker {
	return &InMemoryBreaker{
		provider: provider,
		state:    StateClosed,
		config:   cfg,
	}
}

func (cb *InMemoryBreaker) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > cb.config.Timeout {
			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.setState(StateHalfOpen)
				cb.successes = 0
			}
			cb.mu.Unlock()
			return nil
		}
		return domain.ErrCircuitOpen
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (cb *InMemoryBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *InMemoryBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.successes = 0
	}
}

func (cb *InMemoryBreaker) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *InMemoryBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// setState must be called with the write lock held.
func (cb *InMemoryBreaker) setState(s State) {
	cb.state = s
	metrics.SetCircuitBreakerState(cb.provider, int(s))
}

// Manager hands out one breaker per provider, creating them lazily.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]Breaker
	config   Config
	factory  func(provider string) Breaker
}

type ManagerOption func(*Manager)

// WithRedis backs every breaker with Redis so state is shared across
// gateway instances. A breaker whose Redis connection fails degrades to
// in-memory rather than blocking dispatch.
func WithRedis(redisURL string) ManagerOption {
	return func(m *Manager) {
		m.factory = func(provider string) Breaker {
			cb, err := NewRedis(redisURL, provider, m.config)
			if err != nil {
				return NewInMemory(provider, m.config)
			}
			return cb
		}
	}
}

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]Breaker),
		config:   cfg,
		factory: func(provider string) Breaker {
			return NewInMemory(provider, cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the breaker for a provider, creating one if needed.
func (m *Manager) Get(provider string) Breaker {
	m.mu.RLock()
	cb, ok := m.breakers[provider]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[provider]; ok {
		return existing
	}

	cb = m.factory(provider)
	m.breakers[provider] = cb
	return cb
}

// States reports the current state of every known breaker, for the health
// endpoint.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for id, cb := range m.breakers {
		states[id] = cb.State(ctx).String()
	}
	return states
}
