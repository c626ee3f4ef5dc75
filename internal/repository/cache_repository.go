package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

// CacheRepository stores expiring insight payloads in Redis. Each value is an
// envelope carrying its absolute expiry so callers can enforce staleness with
// their own clock; the Redis TTL only reclaims memory.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get loads the envelope stored under key. Missing keys yield ErrCacheMiss and
// undecodable envelopes yield ErrStorageCorruption.
func (r *CacheRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorageCorruption.Code, appErrors.ErrStorageCorruption.Status, "decode cache entry "+key)
	}
	entry.Key = key
	return &entry, nil
}

// Set writes the envelope; ttl bounds how long Redis keeps the key around.
func (r *CacheRepository) Set(ctx context.Context, entry models.CacheEntry, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry for %s: %w", entry.Key, err)
	}

	if err := r.client.Set(ctx, entry.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", entry.Key, err)
	}

	return nil
}

// Delete removes a single key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Sweep scans keys matching pattern and deletes entries that are expired at
// now or cannot be decoded. It returns the number of removed keys.
func (r *CacheRepository) Sweep(ctx context.Context, pattern string, now time.Time) (int, error) {
	if r.client == nil {
		return 0, nil
	}

	removed := 0
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry, err := r.Get(ctx, key)
		switch {
		case errors.Is(err, appErrors.ErrCacheMiss):
			continue
		case errors.Is(err, appErrors.ErrStorageCorruption):
			r.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		case err != nil:
			return removed, err
		case !entry.Expired(now):
			continue
		}
		if err := r.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return removed, nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
