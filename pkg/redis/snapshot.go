package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SnapshotCache 以 JSON 缓存商品快照，写入时带随机抖动的过期时间。
type SnapshotCache struct {
	rdb    rd.UniversalClient
	ttl    time.Duration
	jitter time.Duration
	group  singleflight.Group
}

func NewSnapshotCache(rdb rd.UniversalClient, ttl, jitter time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl, jitter: jitter}
}

// Get 命中时把值解码到 dst，返回 true。
func (c *SnapshotCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, rd.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set 覆盖写入，过期时间为默认 TTL 加抖动。
func (c *SnapshotCache) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, TTLWithJitter(c.ttl, c.jitter)).Err()
}

// SetNX 不存在时写入，ttl 由调用方给出（已含抖动）。
func (c *SnapshotCache) SetNX(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, b, ttl).Result()
}

// Fetch 读缓存，未命中时同一 key 只放行一个 load，其余请求共享结果。
// 缓存读写失败不影响返回值，只是退化为直接 load。
func Fetch[T any](ctx context.Context, c *SnapshotCache, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if ok, err := c.Get(ctx, key, &v); err == nil && ok {
		return v, nil
	}

	out, err, _ := c.group.Do(key, func() (interface{}, error) {
		var cached T
		if ok, err := c.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}
