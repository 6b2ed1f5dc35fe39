package redis

import (
	"math/rand"
	"time"
)

// TTLWithJitter 在 base 上叠加 [0, jitter) 的随机时长，避免同一批 key 同时过期。
func TTLWithJitter(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)))
}
