package seckill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"seckill/internal/catalog"
	"seckill/internal/model"
	cache "seckill/pkg/redis"
)

// Store 秒杀商品的权威存储。
type Store interface {
	FindSpu(ctx context.Context, spuID int64) (model.SeckillSpu, error)
	FindSku(ctx context.Context, skuID int64) (model.SeckillSku, error)
	SkusBySpu(ctx context.Context, spuID int64) ([]model.SeckillSku, error)
	ListSpus(ctx context.Context, page, size int) ([]model.SeckillSpu, int64, error)
}

// Views 组装并缓存 SPU / SKU / 详情快照。查询接口与预热任务共用。
type Views struct {
	store   Store
	catalog catalog.Catalog
	cache   *cache.SnapshotCache
	log     *logrus.Logger
}

func NewViews(store Store, cat catalog.Catalog, sc *cache.SnapshotCache, log *logrus.Logger) *Views {
	return &Views{store: store, catalog: cat, cache: sc, log: log}
}

// Spu 读取 SPU 快照，未命中时查库并调用商品服务回填。
func (v *Views) Spu(ctx context.Context, spuID int64) (SpuView, error) {
	return cache.Fetch(ctx, v.cache, cache.SpuSnapshotKey(spuID), func(ctx context.Context) (SpuView, error) {
		row, err := v.store.FindSpu(ctx, spuID)
		if err != nil {
			return SpuView{}, err
		}
		return v.composeSpu(ctx, row)
	})
}

func (v *Views) spuFromRow(ctx context.Context, row model.SeckillSpu) (SpuView, error) {
	return cache.Fetch(ctx, v.cache, cache.SpuSnapshotKey(row.SpuID), func(ctx context.Context) (SpuView, error) {
		return v.composeSpu(ctx, row)
	})
}

func (v *Views) composeSpu(ctx context.Context, row model.SeckillSpu) (SpuView, error) {
	spu, err := v.catalog.GetSpu(ctx, row.SpuID)
	if err != nil {
		return SpuView{}, err
	}
	return toSpuView(row, spu), nil
}

func (v *Views) SpuDetail(ctx context.Context, spuID int64) (SpuDetailView, error) {
	return cache.Fetch(ctx, v.cache, cache.SpuDetailKey(spuID), func(ctx context.Context) (SpuDetailView, error) {
		d, err := v.catalog.GetSpuDetail(ctx, spuID)
		if err != nil {
			return SpuDetailView{}, err
		}
		return toSpuDetailView(d), nil
	})
}

// Skus 列出 SPU 下的秒杀 SKU，逐个走快照缓存。
func (v *Views) Skus(ctx context.Context, spuID int64) ([]SkuView, error) {
	rows, err := v.store.SkusBySpu(ctx, spuID)
	if err != nil {
		return nil, err
	}
	out := make([]SkuView, 0, len(rows))
	for _, row := range rows {
		sv, err := cache.Fetch(ctx, v.cache, cache.SkuSnapshotKey(row.SkuID), func(ctx context.Context) (SkuView, error) {
			return v.composeSku(ctx, row)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, nil
}

func (v *Views) composeSku(ctx context.Context, row model.SeckillSku) (SkuView, error) {
	sku, err := v.catalog.GetSku(ctx, row.SkuID)
	if err != nil {
		return SkuView{}, err
	}
	return toSkuView(row, sku), nil
}

// CachedSpu 只读缓存，不回源。读失败按未命中处理。
func (v *Views) CachedSpu(ctx context.Context, spuID int64) (SpuView, bool) {
	var sv SpuView
	ok, err := v.cache.Get(ctx, cache.SpuSnapshotKey(spuID), &sv)
	if err != nil {
		v.log.WithError(err).WithField("spu_id", spuID).Warn("read spu snapshot failed")
		return SpuView{}, false
	}
	return sv, ok
}

// CachedSku 同 CachedSpu。
func (v *Views) CachedSku(ctx context.Context, skuID int64) (SkuView, bool) {
	var sv SkuView
	ok, err := v.cache.Get(ctx, cache.SkuSnapshotKey(skuID), &sv)
	if err != nil {
		v.log.WithError(err).WithField("sku_id", skuID).Warn("read sku snapshot failed")
		return SkuView{}, false
	}
	return sv, ok
}

// Warm 预热快照，只在 key 不存在时写入。商品服务失败的快照跳过，其余继续。
func (v *Views) Warm(ctx context.Context, spu model.SeckillSpu, skus []model.SeckillSku, ttl, jitter time.Duration) error {
	var errs []error

	if view, err := v.composeSpu(ctx, spu); err != nil {
		errs = append(errs, fmt.Errorf("spu %d snapshot: %w", spu.SpuID, err))
	} else if _, err := v.cache.SetNX(ctx, cache.SpuSnapshotKey(spu.SpuID), view, cache.TTLWithJitter(ttl, jitter)); err != nil {
		errs = append(errs, fmt.Errorf("spu %d snapshot: %w", spu.SpuID, err))
	}

	if d, err := v.catalog.GetSpuDetail(ctx, spu.SpuID); err != nil {
		errs = append(errs, fmt.Errorf("spu %d detail: %w", spu.SpuID, err))
	} else if _, err := v.cache.SetNX(ctx, cache.SpuDetailKey(spu.SpuID), toSpuDetailView(d), cache.TTLWithJitter(ttl, jitter)); err != nil {
		errs = append(errs, fmt.Errorf("spu %d detail: %w", spu.SpuID, err))
	}

	for _, row := range skus {
		sv, err := v.composeSku(ctx, row)
		if err == nil {
			_, err = v.cache.SetNX(ctx, cache.SkuSnapshotKey(row.SkuID), sv, cache.TTLWithJitter(ttl, jitter))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sku %d snapshot: %w", row.SkuID, err))
		}
	}
	return errors.Join(errs...)
}
