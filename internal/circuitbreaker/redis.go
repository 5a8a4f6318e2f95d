package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/metrics"
)

// Lua scripts keep state transitions atomic across the multiple Redis keys
// one breaker spans, so concurrent gateway instances agree on the state.

// allowScript checks if a request should be allowed and handles the
// open -> half-open transition.
// Keys: [state_key, last_failure_key, successes_key]
// Args: [timeout_seconds]
// Returns: current state as string
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local timeout = tonumber(ARGV[1])

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= timeout then
        redis.call('SET', KEYS[1], 'half-open')
        redis.call('SET', KEYS[3], '0')
        return 'half-open'
    end
    return 'open'
end

return state
`)

// recordSuccessScript counts successes and closes the circuit from
// half-open once the threshold is met.
// Keys: [state_key, failures_key, successes_key]
// Args: [success_threshold]
// Returns: new state as string
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'closed' then
    redis.call('SET', KEYS[2], '0')
    return 'closed'
end

if state == 'half-open' then
    local successes = redis.call('INCR', KEYS[3])
    local threshold = tonumber(ARGV[1])

    if successes >= threshold then
        redis.call('SET', KEYS[1], 'closed')
        redis.call('SET', KEYS[2], '0')
        redis.call('SET', KEYS[3], '0')
        return 'closed'
    end
    return 'half-open'
end

return state
`)

// recordFailureScript counts failures and opens the circuit.
// Keys: [state_key, failures_key, last_failure_key, successes_key]
// Args: [failure_threshold]
// Returns: new state as string
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    local threshold = tonumber(ARGV[1])

    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[4], '0')
    return 'open'
end

return state
`)

// RedisBreaker shares one provider's circuit state across gateway instances.
type RedisBreaker struct {
	client    *redis.Client
	provider  string
	config    Config
	keyPrefix string
}

func NewRedis(redisURL string, provider string, cfg Config) (*RedisBreaker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBreaker{
		client:    client,
		provider:  provider,
		config:    cfg,
		keyPrefix: fmt.Sprintf("cb:%s:", provider),
	}, nil
}

// NewRedisWithClient shares an existing connection pool across breakers.
func NewRedisWithClient(client *redis.Client, provider string, cfg Config) *RedisBreaker {
	return &RedisBreaker{
		client:    client,
		provider:  provider,
		config:    cfg,
		keyPrefix: fmt.Sprintf("cb:%s:", provider),
	}
}

func (cb *RedisBreaker) stateKey() string       { return cb.keyPrefix + "state" }
func (cb *RedisBreaker) failuresKey() string    { return cb.keyPrefix + "failures" }
func (cb *RedisBreaker) successesKey() string   { return cb.keyPrefix + "successes" }
func (cb *RedisBreaker) lastFailureKey() string { return cb.keyPrefix + "last_failure" }

func (cb *RedisBreaker) Allow(ctx context.Context) error {
	keys := []string{
		cb.stateKey(),
		cb.lastFailureKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		int(cb.config.Timeout.Seconds()),
	}

	result, err := allowScript.Run(ctx, cb.client, keys, args...).Text()
	if err != nil {
		// On Redis error, fail open: the upstream call still happens.
		return nil
	}

	cb.publishState(parseState(result))

	if result == "open" {
		return domain.ErrCircuitOpen
	}

	return nil
}

func (cb *RedisBreaker) RecordSuccess(ctx context.Context) {
	keys := []string{
		cb.stateKey(),
		cb.failuresKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		cb.config.SuccessThreshold,
	}

	result, err := recordSuccessScript.Run(ctx, cb.client, keys, args...).Text()
	if err == nil {
		cb.publishState(parseState(result))
	}
}

func (cb *RedisBreaker) RecordFailure(ctx context.Context) {
	keys := []string{
		cb.stateKey(),
		cb.failuresKey(),
		cb.lastFailureKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		cb.config.FailureThreshold,
	}

	result, err := recordFailureScript.Run(ctx, cb.client, keys, args...).Text()
	if err == nil {
		cb.publishState(parseState(result))
	}
}

func (cb *RedisBreaker) State(ctx context.Context) State {
	result, err := cb.client.Get(ctx, cb.stateKey()).Result()
	if err != nil {
		return StateClosed
	}

	return parseState(result)
}

func (cb *RedisBreaker) Failures(ctx context.Context) int {
	result, err := cb.client.Get(ctx, cb.failuresKey()).Result()
	if err != nil {
		return 0
	}

	failures, _ := strconv.Atoi(result)
	return failures
}

// Reset forces the circuit closed. For manual intervention and tests.
func (cb *RedisBreaker) Reset(ctx context.Context) error {
	pipe := cb.client.Pipeline()
	pipe.Set(ctx, cb.stateKey(), "closed", 0)
	pipe.Set(ctx, cb.failuresKey(), "0", 0)
	pipe.Set(ctx, cb.successesKey(), "0", 0)
	pipe.Del(ctx, cb.lastFailureKey())
	_, err := pipe.Exec(ctx)
	return err
}

func (cb *RedisBreaker) Close() error {
	return cb.client.Close()
}

func (cb *RedisBreaker) publishState(s State) {
	metrics.SetCircuitBreakerState(cb.provider, int(s))
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
