package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"seckill/internal/model"
)

// SeckillRepo 秒杀商品（SPU / SKU）的权威存储。
type SeckillRepo struct {
	db *gorm.DB
}

func NewSeckillRepo(db *gorm.DB) *SeckillRepo {
	return &SeckillRepo{db: db}
}

// ListPreheatSpus 返回需要预热的 SPU：lead 时间内开始且尚未结束。
// 已开始的活动同样返回，预热写入是幂等的。
func (r *SeckillRepo) ListPreheatSpus(ctx context.Context, now time.Time, lead time.Duration) ([]model.SeckillSpu, error) {
	var list []model.SeckillSpu
	err := r.db.WithContext(ctx).
		Where("start_time <= ? AND end_time > ?", now.Add(lead), now).
		Order("start_time").
		Find(&list).Error
	if err != nil {
		return nil, errors.Wrap(err, "list preheat spus")
	}
	return list, nil
}

// SpuIDsOnDay 返回秒杀时间段与 [dayStart, dayStart+24h) 有交集的 SPU id。
func (r *SeckillRepo) SpuIDsOnDay(ctx context.Context, dayStart time.Time) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.SeckillSpu{}).
		Where("start_time < ? AND end_time > ?", dayStart.Add(24*time.Hour), dayStart).
		Pluck("spu_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "list spu ids")
	}
	return ids, nil
}

// ListSpus 分页查询秒杀 SPU，page 从 1 开始。
func (r *SeckillRepo) ListSpus(ctx context.Context, page, size int) ([]model.SeckillSpu, int64, error) {
	var (
		list  []model.SeckillSpu
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&model.SeckillSpu{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count spus")
	}
	err := r.db.WithContext(ctx).Order("start_time DESC").Order("id").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list spus")
	}
	return list, total, nil
}

func (r *SeckillRepo) FindSpu(ctx context.Context, spuID int64) (model.SeckillSpu, error) {
	var spu model.SeckillSpu
	err := r.db.WithContext(ctx).Where("spu_id = ?", spuID).First(&spu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return spu, ErrNotFound
	}
	return spu, errors.Wrapf(err, "find spu %d", spuID)
}

func (r *SeckillRepo) FindSku(ctx context.Context, skuID int64) (model.SeckillSku, error) {
	var sku model.SeckillSku
	err := r.db.WithContext(ctx).Where("sku_id = ?", skuID).First(&sku).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sku, ErrNotFound
	}
	return sku, errors.Wrapf(err, "find sku %d", skuID)
}

func (r *SeckillRepo) SkusBySpu(ctx context.Context, spuID int64) ([]model.SeckillSku, error) {
	var list []model.SeckillSku
	err := r.db.WithContext(ctx).Where("spu_id = ?", spuID).Order("sku_id").Find(&list).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list skus of spu %d", spuID)
	}
	return list, nil
}
