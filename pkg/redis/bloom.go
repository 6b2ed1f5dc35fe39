package redis

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	rd "github.com/redis/go-redis/v9"
)

// BloomFilter 基于 Redis bitmap 的布隆过滤器，每天一个 key。
// 只增不删；允许误判存在，不允许漏判。
type BloomFilter struct {
	rdb rd.UniversalClient
	m   uint64 // 位数
	k   int    // 哈希函数个数
	ttl time.Duration
}

// NewBloomFilter 按预期元素数 n 与误判率 p 计算位数与哈希次数。
func NewBloomFilter(rdb rd.UniversalClient, n uint64, p float64, ttl time.Duration) *BloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &BloomFilter{rdb: rdb, m: m, k: k, ttl: ttl}
}

// Bits / Hashes 供日志与测试观察参数。
func (b *BloomFilter) Bits() uint64 { return b.m }
func (b *BloomFilter) Hashes() int  { return b.k }

// Add 将 ids 加入 day 对应的过滤器，并刷新 key 过期时间。
func (b *BloomFilter) Add(ctx context.Context, day time.Time, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	key := BloomKey(day)
	pipe := b.rdb.Pipeline()
	for _, id := range ids {
		for _, off := range b.offsets(id) {
			pipe.SetBit(ctx, key, int64(off), 1)
		}
	}
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Exists 判断 id 是否可能在 day 的过滤器中。key 不存在时一律返回 false。
func (b *BloomFilter) Exists(ctx context.Context, day time.Time, id int64) (bool, error) {
	key := BloomKey(day)
	pipe := b.rdb.Pipeline()
	cmds := make([]*rd.IntCmd, 0, b.k)
	for _, off := range b.offsets(id) {
		cmds = append(cmds, pipe.GetBit(ctx, key, int64(off)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	for _, c := range cmds {
		if c.Val() == 0 {
			return false, nil
		}
	}
	return true, nil
}

// offsets 双重哈希：g_i = h1 + i*h2 (mod m)。
func (b *BloomFilter) offsets(id int64) []uint64 {
	s := strconv.FormatInt(id, 10)
	h1 := xxhash.Sum64String(s)
	h2 := xxhash.Sum64String("#"+s) | 1
	out := make([]uint64, b.k)
	for i := 0; i < b.k; i++ {
		out[i] = (h1 + uint64(i)*h2) % b.m
	}
	return out
}
