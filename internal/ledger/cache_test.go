package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchJSONPopulatesOnce(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "ledger", "lowstock", "0")
	require.NoError(t, err)

	calls := 0
	loader := func(context.Context) (interface{}, error) {
		calls++
		return []Balance{{ItemCode: "RM-STEEL", WarehouseID: 1, CurrentQty: 5}}, nil
	}

	var first []Balance
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Len(t, first, 1)
	require.Equal(t, 1, calls)

	var second []Balance
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, first, second)
	require.Equal(t, 1, calls, "second fetch should hit the cache")
}

func TestCacheInvalidateRotatesKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "ledger", "valuation")
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx))

	after, err := cache.BuildKey(ctx, "ledger", "valuation")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestCacheNilClientFallsThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "ledger", "valuation")
	require.NoError(t, err)

	var rows []ValuationSummary
	err = cache.FetchJSON(ctx, key, &rows, func(context.Context) (interface{}, error) {
		return []ValuationSummary{{WarehouseID: 1, TotalQty: 10}}, nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, cache.Invalidate(ctx))
}
