// Package cache provides a Redis-backed snapshot cache for the availability
// report. The cache is an optimization only: every method tolerates a nil
// receiver and cache misses so callers can run without Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bloodbank/internal/inventory/models"
	platformredis "bloodbank/internal/platform/redis"
)

const availabilityKey = "bloodbank:availability"

// AvailabilityCache stores the latest availability report with a short TTL.
type AvailabilityCache struct {
	client *platformredis.Client
	ttl    time.Duration
}

// New constructs the cache. A nil client yields a disabled cache.
func New(client *platformredis.Client, ttl time.Duration) *AvailabilityCache {
	if client == nil {
		return nil
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

// Get returns the cached report, or (nil, nil) on miss or disabled cache.
func (c *AvailabilityCache) Get(ctx context.Context) ([]models.StockLevel, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, availabilityKey).Bytes()
	if err != nil {
		if platformredis.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability snapshot: %w", err)
	}
	var levels []models.StockLevel
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("decode availability snapshot: %w", err)
	}
	return levels, nil
}

// Set stores the report. No-op on a disabled cache.
func (c *AvailabilityCache) Set(ctx context.Context, levels []models.StockLevel) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(levels)
	if err != nil {
		return fmt.Errorf("encode availability snapshot: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set availability snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the snapshot, forcing the next report to hit the store.
func (c *AvailabilityCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, availabilityKey).Err(); err != nil {
		return fmt.Errorf("invalidate availability snapshot: %w", err)
	}
	return nil
}
