package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"seckill/internal/result"
	cache "seckill/pkg/redis"
)

// 滑动窗口限流，原子执行：清理窗口外记录 → 计数 → 未超限则记录本次请求。
// KEYS[1]=限流key；ARGV: 当前毫秒, 窗口起点毫秒, 窗口毫秒, member, limit
// 返回当前窗口内请求数，超限返回 -1。
var rateLimitScript = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
end
return -1
`)

// RedisRateLimit 按用户限流；未登录的请求按客户端 IP。Redis 出错时放行。
func RedisRateLimit(rdb rd.UniversalClient, limit int, window time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := cache.IPRateKey(c.ClientIP())
		if u, ok := CurrentUser(c); ok {
			key = cache.UserRateKey(u.ID)
		}

		now := time.Now()
		nowMs := now.UnixMilli()
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())
		n, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key},
			nowMs, nowMs-window.Milliseconds(), window.Milliseconds(), member, limit).Int()
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limit check failed, pass through")
			c.Next()
			return
		}
		if n < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, result.JSONResult{
				Code: http.StatusTooManyRequests,
				Msg:  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
