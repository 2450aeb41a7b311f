package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bundle-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("catalog: cache miss")

// Cache stores serialized catalog reads.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCache(rdb redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "catalog:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}

// CachedRepository is a read-through cache in front of a Repository.
// Cache failures fall back to the underlying repository.
// Misses are not cached, so a newly synced bundle is visible immediately.
type CachedRepository struct {
	next  Repository
	cache Cache
	ttl   time.Duration
}

func NewCachedRepository(next Repository, cache Cache, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{next: next, cache: cache, ttl: ttl}
}

func readThrough[T any](ctx context.Context, r *CachedRepository, key string, load func() (T, bool, error)) (T, bool, error) {
	var out T
	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, true, nil
		}
		logger.From(ctx).Warn("catalog cache entry undecodable", "key", key)
	case !errors.Is(err, ErrCacheMiss):
		logger.From(ctx).Warn("catalog cache read failed", "key", key, "err", err)
	}

	out, found, err := load()
	if err != nil || !found {
		return out, found, err
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
			logger.From(ctx).Warn("catalog cache write failed", "key", key, "err", err)
		}
	}
	return out, true, nil
}

func (r *CachedRepository) FindBundle(ctx context.Context, network NetworkKey, capacity string) (Bundle, bool, error) {
	return readThrough(ctx, r, "bundle:"+string(network)+":"+capacity, func() (Bundle, bool, error) {
		return r.next.FindBundle(ctx, network, capacity)
	})
}

func (r *CachedRepository) FindBundleByID(ctx context.Context, id string) (Bundle, bool, error) {
	return readThrough(ctx, r, "bundle_id:"+id, func() (Bundle, bool, error) {
		return r.next.FindBundleByID(ctx, id)
	})
}

func (r *CachedRepository) ListBundles(ctx context.Context, network NetworkKey) ([]Bundle, error) {
	out, _, err := readThrough(ctx, r, "bundles:"+string(network), func() ([]Bundle, bool, error) {
		b, err := r.next.ListBundles(ctx, network)
		return b, err == nil, err
	})
	return out, err
}

func (r *CachedRepository) ListNetworks(ctx context.Context) ([]Network, error) {
	out, _, err := readThrough(ctx, r, "networks", func() ([]Network, bool, error) {
		n, err := r.next.ListNetworks(ctx)
		return n, err == nil, err
	})
	return out, err
}
