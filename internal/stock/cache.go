package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps aggregate snapshots in Redis. Every movement for a key
// drops that key, so readers never see a stale closing quantity for longer
// than one round trip.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache instantiates the cache helper.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(key AggregateKey) string {
	return fmt.Sprintf("stock:agg:%d:%d:%d", key.TenantID, key.ItemID, key.WarehouseID)
}

// Fetch loads a cached snapshot or populates it using the loader.
func (c *SnapshotCache) Fetch(ctx context.Context, key AggregateKey, dest *Aggregate, loader func(context.Context) (Aggregate, error)) error {
	if c == nil || c.client == nil {
		agg, err := loader(ctx)
		if err != nil {
			return err
		}
		*dest = agg
		return nil
	}
	cacheKey := snapshotKey(key)
	raw, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		if unmarshalErr := json.Unmarshal(raw, dest); unmarshalErr == nil {
			return nil
		}
		// Unreadable payload, fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	agg, err := loader(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey, payload, c.ttl).Err(); err != nil {
		return err
	}
	*dest = agg
	return nil
}

// Invalidate drops the cached snapshot for a key.
func (c *SnapshotCache) Invalidate(ctx context.Context, key AggregateKey) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, snapshotKey(key)).Err()
}
