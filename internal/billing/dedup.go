package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator decides whether a spend alert is new or already dispatched,
// so multiple gateway instances don't each send the same alert.
type Deduplicator interface {
	// ShouldAlert returns true if this workspace/level alert has not been
	// sent yet (by this or any other instance).
	ShouldAlert(ctx context.Context, workspaceID string, level AlertLevel) bool

	// ClearAlert drops alert state for a workspace, e.g. when spend falls
	// back below the warning threshold.
	ClearAlert(ctx context.Context, workspaceID string)
}

// InMemoryDeduplicator suits single-instance deployments.
type InMemoryDeduplicator struct {
	mu         sync.Mutex
	lastAlerts map[string]AlertLevel
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, workspaceID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastAlerts[workspaceID]; ok && last == level {
		return false
	}

	d.lastAlerts[workspaceID] = level
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, workspaceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlerts, workspaceID)
}

// RedisDeduplicator shares alert state across instances. SETNX makes the
// check-and-claim atomic: exactly one instance wins each alert.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
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

	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client:  client,
		lockTTL: lockTTL,
	}
}

func (d *RedisDeduplicator) alertKey(workspaceID string, level AlertLevel) string {
	return fmt.Sprintf("billing:alert:%s:%s", workspaceID, level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, workspaceID string, level AlertLevel) bool {
	key := d.alertKey(workspaceID, level)

	acquired, err := d.client.SetNX(ctx, key, time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		// On Redis error, allow the alert (fail open).
		return true
	}

	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, workspaceID string) {
	pattern := fmt.Sprintf("billing:alert:%s:*", workspaceID)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}

	d.client.Del(ctx, keys...)
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
