package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/noah-isme/session-insights-api/internal/models"
	appErrors "github.com/noah-isme/session-insights-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry models.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Sweep(ctx context.Context, pattern string, now time.Time) (int, error)
}

// CacheService orchestrates cache operations and related metrics. Expiry is
// enforced against the service clock on every read.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	enabled bool
	now     func() time.Time
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, prefix string, timeout time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if prefix == "" {
		prefix = "insights"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:    repo,
		metrics: metrics,
		prefix:  strings.TrimSuffix(prefix, ":"),
		timeout: timeout,
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Key namespaces the parts under the configured prefix.
func (s *CacheService) Key(parts ...string) string {
	prefix := "insights"
	if s != nil {
		prefix = s.prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// Get attempts to retrieve a live entry into dest. It returns true on a hit.
// Expired and undecodable entries are deleted and reported as a miss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	entry, err := s.repo.Get(ctx, key)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		switch {
		case errors.Is(err, appErrors.ErrCacheMiss):
			return false, nil
		case errors.Is(err, appErrors.ErrStorageCorruption):
			s.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
			s.evict(ctx, key)
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, appErrors.FromContext(err, "cache read timed out")
	}

	if entry.Expired(s.now()) {
		s.metrics.RecordCacheOperation(false, duration)
		s.evict(ctx, key)
		return false, nil
	}
	if err := json.Unmarshal(entry.Content, dest); err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		s.logger.Warn("discarding undecodable cache content", zap.String("key", key), zap.Error(err))
		s.evict(ctx, key)
		return false, nil
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores value until now+ttl. A non-positive ttl removes the key.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	content, err := json.Marshal(value)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode cache value")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	entry := models.CacheEntry{Key: key, Content: content, ExpiresAt: s.now().Add(ttl)}
	err = s.repo.Set(ctx, entry, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return appErrors.FromContext(err, "cache write timed out")
	}
	return nil
}

// Delete removes a single key.
func (s *CacheService) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return appErrors.FromContext(err, "cache delete timed out")
	}
	return nil
}

// Purge sweeps every expired entry under the prefix and returns how many were
// removed.
func (s *CacheService) Purge(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	removed, err := s.repo.Sweep(ctx, s.prefix+":*", s.now())
	s.metrics.AddCacheSwept(removed)
	if err != nil {
		s.logger.Warn("cache purge failed", zap.Int("removed", removed), zap.Error(err))
		return removed, appErrors.FromContext(err, "cache purge timed out")
	}
	s.logger.Debug("cache purged", zap.Int("removed", removed))
	return removed, nil
}

func (s *CacheService) evict(ctx context.Context, key string) {
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Warn("cache eviction failed", zap.String("key", key), zap.Error(err))
	}
}
