package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/tunegate/tunegate/storage"
)

// CacheGet returns the payload for key, or storage.ErrCacheMiss. Expiry is
// enforced by the key TTL, so a hit is always fresh.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.cacheKey(key)).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, nil
}

// CacheSet stores a payload under key for ttl
func (s *Store) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if len(value) > MaxCachePayloadSize {
		return fmt.Errorf("cache payload: %w", errInputTooLarge)
	}

	err := s.client.Do(ctx,
		s.client.B().Set().Key(s.cacheKey(key)).Value(string(value)).Px(ttl).Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// CacheDelete removes a single cache key. Idempotent.
func (s *Store) CacheDelete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.cacheKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// CacheDeleteByPrefix bulk-removes all keys sharing a prefix using SCAN, so
// large deletions never block the server the way KEYS would.
func (s *Store) CacheDeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := s.cacheKey(prefix) + "*"

	// SCAN can return duplicates across iterations
	seen := make(map[string]struct{})

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return len(seen), fmt.Errorf("failed to scan cache keys: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := seen[key]; exists {
				continue
			}
			if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
				return len(seen), fmt.Errorf("failed to delete cache key %s: %w", key, err)
			}
			seen[key] = struct{}{}
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	if len(seen) > 0 {
		s.logger.Debug("Cleared cache entries by prefix", "count", len(seen))
	}
	return len(seen), nil
}
