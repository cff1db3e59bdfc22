package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/logger"
)

const defaultCacheTTL = 5 * time.Minute

// ErrCacheMiss is returned by Cache.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a byte-oriented key value cache with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	cli *redis.Client
}

func NewRedisCache(cli *redis.Client) *RedisCache {
	return &RedisCache{cli: cli}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := c.cli.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return res, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.cli.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

// CachedStore serves Get from the cache and falls through to next on a miss.
// Writes go to next first and then drop the cached entry. Cache failures are
// logged and never fail the call.
type CachedStore struct {
	next   Store
	cache  Cache
	ttl    time.Duration
	logger *logger.Logger
}

func NewCachedStore(next Store, cache Cache, ttl time.Duration, log *logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedStore{next: next, cache: cache, ttl: ttl, logger: log.With("component", "metadata_cache")}
}

const cachePrefix = "hearings:document:"

func cacheKey(id string) string {
	return cachePrefix + id
}

// PurgeCache drops every cached document from cli.
func PurgeCache(ctx context.Context, cli *redis.Client) (int, error) {
	var removed int
	iter := cli.Scan(ctx, 0, cachePrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := cli.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("purge document cache: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan document cache: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("purge document cache: %w", err)
	}
	return removed, nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (document.Metadata, error) {
	key := cacheKey(id)
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var meta document.Metadata
		if jsonErr := json.Unmarshal(raw, &meta); jsonErr == nil {
			meta.ConfidentialityLevel = document.StoredLevel(string(meta.ConfidentialityLevel))
			return meta, nil
		}
		s.logger.Warn("discard undecodable cache entry", "document_id", id)
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("cache read failed", "document_id", id, "error", err)
	}

	meta, err := s.next.Get(ctx, id)
	if err != nil {
		return document.Metadata{}, err
	}
	if meta.Status == document.StatusIndexed {
		s.store(ctx, meta)
	}
	return meta, nil
}

func (s *CachedStore) store(ctx context.Context, meta document.Metadata) {
	raw, err := json.Marshal(meta)
	if err != nil {
		s.logger.Warn("encode cache entry", "document_id", meta.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(meta.ID), raw, s.ttl); err != nil {
		s.logger.Warn("cache write failed", "document_id", meta.ID, "error", err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("cache invalidation failed", "document_id", id, "error", err)
	}
}

func (s *CachedStore) Put(ctx context.Context, meta document.Metadata) error {
	if err := s.next.Put(ctx, meta); err != nil {
		return err
	}
	s.invalidate(ctx, meta.ID)
	return nil
}

func (s *CachedStore) SetStatus(ctx context.Context, id string, status document.ProcessingStatus, reason string) error {
	if err := s.next.SetStatus(ctx, id, status, reason); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// ListByProceeding is not cached.
func (s *CachedStore) ListByProceeding(ctx context.Context, proceedingID string) ([]document.Metadata, error) {
	docs, err := s.next.ListByProceeding(ctx, proceedingID)
	if err != nil {
		return nil, fmt.Errorf("list proceeding: %w", err)
	}
	return docs, nil
}
