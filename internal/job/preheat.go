// Package job 秒杀相关的定时任务：缓存预热、布隆过滤器刷新。
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"seckill/internal/metrics"
	"seckill/internal/model"
	cache "seckill/pkg/redis"
)

// PreheatStore 预热所需的权威数据。
type PreheatStore interface {
	ListPreheatSpus(ctx context.Context, now time.Time, lead time.Duration) ([]model.SeckillSpu, error)
	SkusBySpu(ctx context.Context, spuID int64) ([]model.SeckillSku, error)
}

// SnapshotWarmer 写入 SPU/SKU/详情快照，已存在的不覆盖。
type SnapshotWarmer interface {
	Warm(ctx context.Context, spu model.SeckillSpu, skus []model.SeckillSku, ttl, jitter time.Duration) error
}

type PreheatConfig struct {
	Lead        time.Duration
	Jitter      time.Duration
	SnapshotTTL time.Duration
}

// Preheater 在活动开始前把库存计数、访问令牌和快照写入 Redis。
// 所有写入都是 set-if-absent，重复执行不会重置已扣减的库存。
type Preheater struct {
	store   PreheatStore
	ledger  *cache.Ledger
	tokens  *cache.TokenStore
	warmer  SnapshotWarmer
	cfg     PreheatConfig
	log     *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewPreheater(store PreheatStore, ledger *cache.Ledger, tokens *cache.TokenStore, warmer SnapshotWarmer, cfg PreheatConfig, log *logrus.Logger, m *metrics.Metrics) *Preheater {
	return &Preheater{
		store:   store,
		ledger:  ledger,
		tokens:  tokens,
		warmer:  warmer,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Run 执行一轮预热。单个 SPU/SKU 失败不影响其他，汇总后返回。
func (p *Preheater) Run(ctx context.Context) error {
	now := p.now()
	spus, err := p.store.ListPreheatSpus(ctx, now, p.cfg.Lead)
	if err != nil {
		return fmt.Errorf("list preheat spus: %w", err)
	}

	var errs []error
	for _, spu := range spus {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := p.preheatSpu(ctx, now, spu); err != nil {
			errs = append(errs, err)
		}
	}
	if len(spus) > 0 {
		p.log.WithFields(logrus.Fields{"spus": len(spus), "failed": len(errs)}).Info("preheat round finished")
	}
	return errors.Join(errs...)
}

func (p *Preheater) preheatSpu(ctx context.Context, now time.Time, spu model.SeckillSpu) error {
	// 库存覆盖到活动结束再多留一个提前量；令牌只活到活动结束。
	tokenTTL := spu.EndTime.Sub(now)
	ttl := tokenTTL + p.cfg.Lead
	entry := p.log.WithField("spu_id", spu.SpuID)

	skus, err := p.store.SkusBySpu(ctx, spu.SpuID)
	if err != nil {
		p.metrics.Preheat("stock", "error")
		return fmt.Errorf("spu %d skus: %w", spu.SpuID, err)
	}

	var errs []error
	for _, sku := range skus {
		created, err := p.ledger.SeedStock(ctx, sku.SkuID, sku.SeckillStock, cache.TTLWithJitter(ttl, p.cfg.Jitter))
		if err != nil {
			p.metrics.Preheat("stock", "error")
			entry.WithError(err).WithField("sku_id", sku.SkuID).Warn("preheat stock failed")
			errs = append(errs, fmt.Errorf("sku %d stock: %w", sku.SkuID, err))
			continue
		}
		if created {
			p.metrics.Preheat("stock", "created")
			entry.WithFields(logrus.Fields{"sku_id": sku.SkuID, "stock": sku.SeckillStock}).Info("stock preheated")
		} else {
			p.metrics.Preheat("stock", "exists")
		}
	}

	_, created, err := p.tokens.Ensure(ctx, spu.SpuID, tokenTTL)
	switch {
	case err != nil:
		p.metrics.Preheat("token", "error")
		entry.WithError(err).Warn("preheat token failed")
		errs = append(errs, fmt.Errorf("spu %d token: %w", spu.SpuID, err))
	case created:
		p.metrics.Preheat("token", "created")
		entry.Info("access token preheated")
	default:
		p.metrics.Preheat("token", "exists")
	}

	snapTTL := p.cfg.SnapshotTTL
	if snapTTL <= 0 || snapTTL > ttl {
		snapTTL = ttl
	}
	if err := p.warmer.Warm(ctx, spu, skus, snapTTL, p.cfg.Jitter); err != nil {
		p.metrics.Preheat("snapshot", "error")
		entry.WithError(err).Warn("preheat snapshot partially failed")
		errs = append(errs, err)
	} else {
		p.metrics.Preheat("snapshot", "ok")
	}
	return errors.Join(errs...)
}
