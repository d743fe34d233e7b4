package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, err := c.Get(ctx, "https://api.example.com/data")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "https://api.example.com/data", json.RawMessage(`{"value":42}`), 0))

	got, err := c.Get(ctx, "https://api.example.com/data")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(got))
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	v := json.RawMessage(`{"value":42}`)
	require.NoError(t, c.Set(ctx, "k", v, 0))
	v[1] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'Y'

	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(again))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", json.RawMessage(`1`), time.Minute))

	now = now.Add(30 * time.Second)
	_, err := c.Get(ctx, "k")
	assert.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheLastWriteWins(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, fmt.Sprintf("k%d", i%5), json.RawMessage(fmt.Sprintf("%d", i)), 0)
			_, _ = c.Get(ctx, fmt.Sprintf("k%d", (i+1)%5))
		}(i)
	}
	wg.Wait()

	require.NoError(t, c.Set(ctx, "k0", json.RawMessage(`"last"`), 0))
	got, err := c.Get(ctx, "k0")
	require.NoError(t, err)
	assert.Equal(t, `"last"`, string(got))
	assert.Equal(t, 5, c.Len())
}

func TestNopCacheAlwaysMisses(t *testing.T) {
	c := NewNopCache(logger.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", json.RawMessage(`1`), 0))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available")
	}
	c := NewRedisCacheFromClient(rdb)
	defer c.Close()
	ctx := context.Background()
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer c.Delete(ctx, key)

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, errors.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, json.RawMessage(`{"value":42}`), time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(got))
}
