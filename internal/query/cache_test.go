package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/envgraph/internal/config"
	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/observability"
	"github.com/sells-group/envgraph/internal/store/storetest"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	b, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (c *memCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = val
	c.ttls[key] = ttl
	return nil
}

func (c *memCache) Purge(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	n := len(c.data)
	c.data = make(map[string][]byte)
	c.ttls = make(map[string]time.Duration)
	return n, nil
}

type countingComposer struct {
	next  Composer
	calls int
}

func (c *countingComposer) Compose(ctx context.Context, req Request) (*CompositeResponse, error) {
	c.calls++
	return c.next.Compose(ctx, req)
}

func TestCachedServiceHit(t *testing.T) {
	ctx := context.Background()
	inner := &countingComposer{next: NewService(fixture(t), nil)}
	cache := newMemCache()
	m := observability.NewMetricsForTesting()
	svc := NewCachedService(inner, cache, time.Hour, m)

	req := baseRequest()
	req.Options = Options{NeighborInfluence: true, LandcoverInfluence: true, AtmosphericInfluence: true}

	first, err := svc.Compose(ctx, req)
	require.NoError(t, err)
	second, err := svc.Compose(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached response mismatch (-first +second):\n%s", diff)
	}
	require.Len(t, cache.ttls, 1)
	for _, ttl := range cache.ttls {
		assert.Equal(t, time.Hour, ttl)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")), 0)
}

func TestCachedServiceStaleUntilPurged(t *testing.T) {
	ctx := context.Background()
	st := fixture(t)
	inner := &countingComposer{next: NewService(st, nil)}
	cache := newMemCache()
	svc := NewCachedService(inner, cache, time.Hour, nil)

	resp, err := svc.Compose(ctx, baseRequest())
	require.NoError(t, err)
	require.Len(t, resp.Atmosphere["CO"], 1)

	storetest.Measurement(t, st, model.Measurement{
		ID: "m9", Type: model.CO, Region: "Pune", Timestamp: "2020-01-20T00:00:00 to 2020-01-27T00:00:00",
	}, 0.05, true)

	resp, err = svc.Compose(ctx, baseRequest())
	require.NoError(t, err)
	assert.Len(t, resp.Atmosphere["CO"], 1, "hit serves the stored response")

	n, err := cache.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp, err = svc.Compose(ctx, baseRequest())
	require.NoError(t, err)
	assert.Len(t, resp.Atmosphere["CO"], 2)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedServiceKeyIgnoresWhitespace(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.District = "  Pune "
	b.StartDate = " 2020-01-01"

	ka, err := CacheKey(a.Normalize())
	require.NoError(t, err)
	kb, err := CacheKey(b.Normalize())
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	b.LandcoverInfluence = true
	kc, err := CacheKey(b.Normalize())
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)
}

func TestCachedServiceFallsThroughOnCacheError(t *testing.T) {
	inner := &countingComposer{next: NewService(fixture(t), nil)}
	cache := newMemCache()
	cache.err = eris.New("redis down")
	svc := NewCachedService(inner, cache, time.Minute, nil)

	for range 2 {
		resp, err := svc.Compose(context.Background(), baseRequest())
		require.NoError(t, err)
		assert.Len(t, resp.Atmosphere["CO"], 1)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCachedServiceSkipsInvalidRequests(t *testing.T) {
	q := &fakeQuerier{}
	cache := newMemCache()
	svc := NewCachedService(NewService(q, nil), cache, time.Minute, nil)

	req := baseRequest()
	req.PredictionTarget = "Methane"
	_, err := svc.Compose(context.Background(), req)
	assert.True(t, eris.Is(err, ErrInvalidTarget))
	assert.Empty(t, cache.data)
}

func TestRedisCacheUnreachable(t *testing.T) {
	rc := NewRedisCache(config.CacheConfig{RedisAddr: "127.0.0.1:1", TTLSecs: 60})
	t.Cleanup(func() { rc.Close() }) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := rc.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrCacheMiss))

	_, err = rc.Purge(ctx)
	assert.Error(t, err)

	inner := &countingComposer{next: NewService(fixture(t), nil)}
	resp, err := NewCachedService(inner, rc, time.Minute, nil).Compose(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "Pune", resp.District)
}
