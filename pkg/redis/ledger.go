package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// ErrStockNotCached 库存 key 不存在（未预热或已过期）。
var ErrStockNotCached = errors.New("stock not cached")

// luaDecrStock：key 不存在返回 {0, 0}；否则 DECRBY 并返回 {1, 扣减后的值}。
// 结果允许为负数，调用方据此判断售罄，不做回补。
var luaDecrStock = rd.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0, 0}
end
return {1, redis.call('DECRBY', KEYS[1], ARGV[1])}
`)

// luaIncrAttempt：首次计数时设置过期时间，之后只 INCR。计数永不回退。
var luaIncrAttempt = rd.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Ledger 秒杀热路径上的原子计数：库存与用户尝试次数。
type Ledger struct {
	rdb rd.UniversalClient
}

func NewLedger(rdb rd.UniversalClient) *Ledger {
	return &Ledger{rdb: rdb}
}

// SeedStock 仅在 key 不存在时写入库存，返回是否写入。已在扣减中的计数不会被覆盖。
func (l *Ledger) SeedStock(ctx context.Context, skuID, stock int64, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, StockKey(skuID), stock, ttl).Result()
}

// DecrStock 原子扣减 quantity，返回扣减后的剩余值（可能为负）。
func (l *Ledger) DecrStock(ctx context.Context, skuID int64, quantity int) (int64, error) {
	res, err := luaDecrStock.Run(ctx, l.rdb, []string{StockKey(skuID)}, quantity).Slice()
	if err != nil {
		return 0, fmt.Errorf("decr stock sku=%d: %w", skuID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("decr stock sku=%d: unexpected reply %v", skuID, res)
	}
	exists, _ := res[0].(int64)
	if exists == 0 {
		return 0, ErrStockNotCached
	}
	left, ok := res[1].(int64)
	if !ok {
		return 0, fmt.Errorf("decr stock sku=%d: unexpected value %T", skuID, res[1])
	}
	return left, nil
}

// Stock 读取缓存中的剩余库存；found=false 表示未缓存。
func (l *Ledger) Stock(ctx context.Context, skuID int64) (int64, bool, error) {
	n, err := l.rdb.Get(ctx, StockKey(skuID)).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// IncrAttempt 记录一次购买尝试并返回累计次数，ttl 只在首次计数时生效。
func (l *Ledger) IncrAttempt(ctx context.Context, skuID, userID int64, ttl time.Duration) (int64, error) {
	n, err := luaIncrAttempt.Run(ctx, l.rdb, []string{AttemptKey(skuID, userID)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr attempt sku=%d user=%d: %w", skuID, userID, err)
	}
	return n, nil
}
