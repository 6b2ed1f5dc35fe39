package job

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"seckill/internal/metrics"
	cache "seckill/pkg/redis"
)

type DayLister interface {
	SpuIDsOnDay(ctx context.Context, dayStart time.Time) ([]int64, error)
}

// BloomRefresher 把当天（可选次日）有秒杀的 SPU 写入按日划分的布隆过滤器。
// 只增不删，过期交给 key 的 TTL。
type BloomRefresher struct {
	store    DayLister
	bloom    *cache.BloomFilter
	tomorrow bool
	log      *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewBloomRefresher(store DayLister, bloom *cache.BloomFilter, tomorrow bool, log *logrus.Logger, m *metrics.Metrics) *BloomRefresher {
	return &BloomRefresher{store: store, bloom: bloom, tomorrow: tomorrow, log: log, metrics: m, now: time.Now}
}

func (b *BloomRefresher) Run(ctx context.Context) error {
	today := startOfDay(b.now())
	if err := b.refresh(ctx, today); err != nil {
		return err
	}
	if b.tomorrow {
		return b.refresh(ctx, today.AddDate(0, 0, 1))
	}
	return nil
}

func (b *BloomRefresher) refresh(ctx context.Context, day time.Time) error {
	ids, err := b.store.SpuIDsOnDay(ctx, day)
	if err != nil {
		b.metrics.Preheat("bloom", "error")
		return fmt.Errorf("list spus on %s: %w", day.Format("20060102"), err)
	}
	if err := b.bloom.Add(ctx, day, ids...); err != nil {
		b.metrics.Preheat("bloom", "error")
		return fmt.Errorf("bloom add %s: %w", day.Format("20060102"), err)
	}
	b.metrics.Preheat("bloom", "ok")
	b.log.WithFields(logrus.Fields{"day": day.Format("20060102"), "spus": len(ids)}).Debug("bloom filter refreshed")
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
