package redis

import (
	"fmt"
	"time"
)

// StockKey 秒杀 SKU 剩余库存计数。
func StockKey(skuID int64) string {
	return fmt.Sprintf("seckill:sku:stock:%d", skuID)
}

// TokenKey SPU 的访问令牌，预热时生成。
func TokenKey(spuID int64) string {
	return fmt.Sprintf("seckill:spu:token:%d", spuID)
}

// AttemptKey 某用户对某 SKU 的购买尝试次数。
func AttemptKey(skuID, userID int64) string {
	return fmt.Sprintf("seckill:attempt:%d:%d", skuID, userID)
}

// BloomKey 按自然日划分的布隆过滤器 bitmap。
func BloomKey(day time.Time) string {
	return "seckill:bloom:" + day.Format("20060102")
}

func SpuSnapshotKey(spuID int64) string {
	return fmt.Sprintf("seckill:spu:vo:%d", spuID)
}

func SpuDetailKey(spuID int64) string {
	return fmt.Sprintf("seckill:spu:detail:%d", spuID)
}

func SkuSnapshotKey(skuID int64) string {
	return fmt.Sprintf("seckill:sku:vo:%d", skuID)
}

// UserRateKey / IPRateKey 接口级滑动窗口限流。
func UserRateKey(userID int64) string {
	return fmt.Sprintf("seckill:ratelimit:user:%d", userID)
}

func IPRateKey(ip string) string {
	return "seckill:ratelimit:ip:" + ip
}
