package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/envgraph/internal/config"
	"github.com/sells-group/envgraph/internal/observability"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = eris.New("query: cache miss")

const keyPrefix = "envgraph:compose:"

// Cache stores encoded responses. Purge drops every composite entry and
// returns how many were removed.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Purge(ctx context.Context) (int, error)
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the configured Redis server. The connection
// is lazy; errors surface on first use.
func NewRedisCache(cfg config.CacheConfig) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, eris.Wrap(err, "query: redis get")
	}
	return b, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return eris.Wrap(c.client.Set(ctx, key, val, ttl).Err(), "query: redis set")
}

// Purge implements Cache. Keys are found with SCAN so the server is never
// blocked by KEYS.
func (c *RedisCache) Purge(ctx context.Context) (int, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, eris.Wrap(err, "query: redis scan")
	}

	removed := 0
	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		n, err := c.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, eris.Wrap(err, "query: redis del")
		}
		removed += int(n)
	}
	return removed, nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }

// CachedService serves composite responses from a cache and falls back to
// the wrapped Composer on a miss. Cache failures never fail a request.
//
// A hit returns the response as composed when it was stored, so changes to
// the graph become visible only after the entry's TTL expires or the cache
// is purged. The ingest, seed and chain build commands purge on exit.
type CachedService struct {
	next    Composer
	cache   Cache
	ttl     time.Duration
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewCachedService wraps next. metrics may be nil.
func NewCachedService(next Composer, cache Cache, ttl time.Duration, metrics *observability.Metrics) *CachedService {
	return &CachedService{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "query.cache")),
	}
}

// Compose implements Composer. Invalid requests are rejected before the
// cache is consulted.
func (c *CachedService) Compose(ctx context.Context, req Request) (*CompositeResponse, error) {
	req = req.Normalize()
	if _, err := req.Validate(); err != nil {
		return c.next.Compose(ctx, req)
	}

	key, err := CacheKey(req)
	if err != nil {
		return nil, err
	}

	b, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var resp CompositeResponse
		if jerr := json.Unmarshal(b, &resp); jerr == nil {
			c.metrics.ObserveCache("hit")
			return &resp, nil
		}
		c.log.Warn("discarding undecodable cache entry", zap.String("key", key))
		c.metrics.ObserveCache("miss")
	case eris.Is(err, ErrCacheMiss):
		c.metrics.ObserveCache("miss")
	default:
		c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		c.metrics.ObserveCache("error")
	}

	resp, err := c.next.Compose(ctx, req)
	if err != nil {
		return nil, err
	}

	enc, err := json.Marshal(resp)
	if err != nil {
		return nil, eris.Wrap(err, "query: encode response")
	}
	if err := c.cache.Set(ctx, key, enc, c.ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return resp, nil
}

// CacheKey derives the cache key of a normalized request.
func CacheKey(req Request) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "query: encode cache key")
	}
	sum := sha256.Sum256(b)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}
