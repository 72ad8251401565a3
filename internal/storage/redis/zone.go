// Package redis caches the active zone list of each branch in Redis.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/zone"
)

var _ zone.Store = (*ZoneCache)(nil)

const keyPrefix = "store:zones:active:"

// backend is the subset of Redis commands the cache uses.
type backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// errMiss reports a key absent from the backend.
var errMiss = errors.New("cache miss")

type client struct {
	rdb goredis.UniversalClient
}

func (c client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errMiss
	}
	return b, err
}

func (c client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// ZoneCache wraps a zone.Store and keeps each branch's active zone list in
// Redis. Admin writes through the cache drop the affected branch keys.
// Redis failures are logged and the store is used directly.
type ZoneCache struct {
	zone.Store
	kv  backend
	ttl time.Duration
}

// NewZoneCache returns a ZoneCache over store using rdb.
func NewZoneCache(store zone.Store, rdb goredis.UniversalClient, ttl time.Duration) *ZoneCache {
	return &ZoneCache{Store: store, kv: client{rdb: rdb}, ttl: ttl}
}

func key(branchID int64) string {
	return keyPrefix + strconv.FormatInt(branchID, 10)
}

// ActiveByBranch serves the branch's zone list from Redis, loading it from
// the store on a miss.
func (c *ZoneCache) ActiveByBranch(ctx context.Context, branchID int64) ([]zone.Zone, error) {
	lg := zctx.From(ctx).With(zap.Int64("branch_id", branchID))

	raw, err := c.kv.Get(ctx, key(branchID))
	switch {
	case err == nil:
		zones, err := decodeZones(raw)
		if err == nil {
			return zones, nil
		}
		lg.Warn("Dropping undecodable zone cache entry", zap.Error(err))
	case !errors.Is(err, errMiss):
		lg.Warn("Zone cache read failed", zap.Error(err))
	}

	zones, err := c.Store.ActiveByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Set(ctx, key(branchID), encodeZones(zones), c.ttl); err != nil {
		lg.Warn("Zone cache write failed", zap.Error(err))
	}
	return zones, nil
}

// Create stores z and drops its branch's cache entry.
func (c *ZoneCache) Create(ctx context.Context, z *zone.Zone) error {
	if err := c.Store.Create(ctx, z); err != nil {
		return err
	}
	c.invalidate(ctx, z.BranchID)
	return nil
}

// Update stores z and drops the cache entries of its old and new branch.
func (c *ZoneCache) Update(ctx context.Context, z *zone.Zone) error {
	old, err := c.Store.Get(ctx, z.ID)
	if err != nil {
		return err
	}
	if err := c.Store.Update(ctx, z); err != nil {
		return err
	}
	c.invalidate(ctx, old.BranchID, z.BranchID)
	return nil
}

// Delete removes the zone and drops its branch's cache entry.
func (c *ZoneCache) Delete(ctx context.Context, id int64) (int64, error) {
	branchID, err := c.Store.Delete(ctx, id)
	if err != nil {
		return 0, err
	}
	c.invalidate(ctx, branchID)
	return branchID, nil
}

func (c *ZoneCache) invalidate(ctx context.Context, branchIDs ...int64) {
	keys := make([]string, 0, len(branchIDs))
	for _, id := range branchIDs {
		k := key(id)
		if len(keys) == 0 || keys[len(keys)-1] != k {
			keys = append(keys, k)
		}
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		zctx.From(ctx).Error("Zone cache invalidation failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}

func encodeZones(zones []zone.Zone) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Arr(func(e *jx.Encoder) {
		for _, z := range zones {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(z.ID) })
				e.Field("branch_id", func(e *jx.Encoder) { e.Int64(z.BranchID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(z.Name) })
				e.Field("max_distance_km", func(e *jx.Encoder) { e.Str(z.MaxDistanceKm.String()) })
				e.Field("delivery_price", func(e *jx.Encoder) { e.Str(z.DeliveryPrice.String()) })
				e.Field("sort_order", func(e *jx.Encoder) { e.Int(z.SortOrder) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(z.Status)) })
				e.Field("created_at", func(e *jx.Encoder) { e.Str(z.CreatedAt.Format(time.RFC3339Nano)) })
				e.Field("updated_at", func(e *jx.Encoder) { e.Str(z.UpdatedAt.Format(time.RFC3339Nano)) })
			})
		}
	})
	return append([]byte(nil), e.Bytes()...)
}

func decodeZones(raw []byte) ([]zone.Zone, error) {
	zones := []zone.Zone{}
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		var z zone.Zone
		if err := d.Obj(func(d *jx.Decoder, k string) error {
			var err error
			switch k {
			case "id":
				z.ID, err = d.Int64()
			case "branch_id":
				z.BranchID, err = d.Int64()
			case "name":
				z.Name, err = d.Str()
			case "max_distance_km":
				z.MaxDistanceKm, err = decodeDecimal(d)
			case "delivery_price":
				z.DeliveryPrice, err = decodeDecimal(d)
			case "sort_order":
				z.SortOrder, err = d.Int()
			case "status":
				var s string
				s, err = d.Str()
				z.Status = zone.Status(s)
			case "created_at":
				z.CreatedAt, err = decodeTime(d)
			case "updated_at":
				z.UpdatedAt, err = decodeTime(d)
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, k)
		}); err != nil {
			return err
		}
		zones = append(zones, z)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode zones")
	}
	return zones, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
