package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
)

const verdictKeyPrefix = "entitlement:verdict:"

// RedisVerdictCache is a Redis-backed implementation of
// entitlement.VerdictCache. Entries are stored as JSON with a TTL slightly
// above the staleness window; staleness itself is judged by the reconciler
// from StoredAt, the TTL only garbage-collects abandoned keys.
type RedisVerdictCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisVerdictCache creates a Redis verdict cache with the given
// garbage-collection TTL.
func NewRedisVerdictCache(client *redis.Client, ttl time.Duration) *RedisVerdictCache {
	return &RedisVerdictCache{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the entry for a subject key, or (nil, nil) on a miss
func (c *RedisVerdictCache) Get(ctx context.Context, subjectKey string) (*entitlement.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.buildKey(subjectKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached verdict: %w", err)
	}

	var entry entitlement.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached verdict: %w", err)
	}
	return &entry, nil
}

// Put stores an entry for a subject key, replacing any previous one
func (c *RedisVerdictCache) Put(ctx context.Context, subjectKey string, entry *entitlement.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict entry: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(subjectKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store verdict in redis: %w", err)
	}
	return nil
}

// Delete removes the entry for a subject key
func (c *RedisVerdictCache) Delete(ctx context.Context, subjectKey string) error {
	if err := c.client.Del(ctx, c.buildKey(subjectKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached verdict: %w", err)
	}
	return nil
}

// Clear removes every cached verdict under the entitlement prefix
func (c *RedisVerdictCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, verdictKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cached verdicts: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cached verdicts: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisVerdictCache) buildKey(subjectKey string) string {
	return verdictKeyPrefix + subjectKey
}
