package cache

import (
	"context"
	"fmt"
	"time"
)

const dedupKeyPrefix = "devassist:event"

// Deduplicator suppresses redundant processing of Slack event redeliveries.
// Slack retries webhook deliveries on slow responses, so the same event ID
// can arrive more than once.
type Deduplicator struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewDeduplicator creates a deduplicator that remembers event IDs for ttl
func NewDeduplicator(redis *RedisClient, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{redis: redis, ttl: ttl}
}

// Seen marks eventID as processed and reports whether it was already seen.
// The check and mark are a single atomic SETNX so concurrent deliveries of
// the same event cannot both claim it.
func (d *Deduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf("%s:%s", dedupKeyPrefix, eventID)
	claimed, err := d.redis.SetNX(ctx, key, 1, d.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}
