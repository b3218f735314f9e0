package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, time.Minute), srv
}

func TestSnapshotCacheFetchPopulatesAndReuses(t *testing.T) {
	cache, _ := newTestCache(t)
	key := AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	loads := 0
	loader := func(context.Context) (Aggregate, error) {
		loads++
		return Aggregate{
			TenantID:    key.TenantID,
			ItemID:      key.ItemID,
			WarehouseID: key.WarehouseID,
			ClosingQty:  decimal.NewFromInt(30),
			AverageCost: decimal.RequireFromString("11.33"),
		}, nil
	}

	var first Aggregate
	require.NoError(t, cache.Fetch(context.Background(), key, &first, loader))
	require.Equal(t, 1, loads)
	require.Equal(t, "30", first.ClosingQty.String())

	var second Aggregate
	require.NoError(t, cache.Fetch(context.Background(), key, &second, loader))
	require.Equal(t, 1, loads, "second fetch must hit the cache")
	require.Equal(t, "11.33", second.AverageCost.String())
}

func TestSnapshotCacheInvalidateForcesReload(t *testing.T) {
	cache, _ := newTestCache(t)
	key := AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	loads := 0
	loader := func(context.Context) (Aggregate, error) {
		loads++
		return Aggregate{ClosingQty: decimal.NewFromInt(int64(100 + loads))}, nil
	}

	var agg Aggregate
	require.NoError(t, cache.Fetch(context.Background(), key, &agg, loader))
	require.NoError(t, cache.Invalidate(context.Background(), key))
	require.NoError(t, cache.Fetch(context.Background(), key, &agg, loader))
	require.Equal(t, 2, loads)
	require.Equal(t, "102", agg.ClosingQty.String())
}

func TestSnapshotCacheLoaderErrorPropagates(t *testing.T) {
	cache, _ := newTestCache(t)
	key := AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	boom := errors.New("boom")

	var agg Aggregate
	err := cache.Fetch(context.Background(), key, &agg, func(context.Context) (Aggregate, error) {
		return Aggregate{}, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestSnapshotCacheNilClientFallsThrough(t *testing.T) {
	var cache *SnapshotCache
	key := AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}

	var agg Aggregate
	err := cache.Fetch(context.Background(), key, &agg, func(context.Context) (Aggregate, error) {
		return Aggregate{ClosingQty: decimal.NewFromInt(7)}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "7", agg.ClosingQty.String())
}
