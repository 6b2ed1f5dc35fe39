package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"seckill/internal/model"
)

// ErrStockShortage 权威库存不足以扣减，重试也不会成功。
var ErrStockShortage = errors.New("seckill stock shortage")

// SuccessRepo 秒杀成功记录落库，并同步扣减权威库存。
type SuccessRepo struct {
	db *gorm.DB
}

func NewSuccessRepo(db *gorm.DB) *SuccessRepo {
	return &SuccessRepo{db: db}
}

// Record 在同一事务内写成功记录并扣减 seckill_sku 库存。
// record_id 已存在时视为重复投递，返回 (false, nil)，库存不会再扣。
func (r *SuccessRepo) Record(ctx context.Context, s *model.Success) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoNothing: true,
		}).Create(s)
		if res.Error != nil {
			return errors.Wrap(res.Error, "insert success")
		}
		if res.RowsAffected == 0 {
			return nil
		}

		upd := tx.Model(&model.SeckillSku{}).
			Where("sku_id = ? AND seckill_stock >= ?", s.SkuID, s.Quantity).
			Update("seckill_stock", gorm.Expr("seckill_stock - ?", s.Quantity))
		if upd.Error != nil {
			return errors.Wrap(upd.Error, "decrease seckill stock")
		}
		if upd.RowsAffected == 0 {
			return errors.Wrapf(ErrStockShortage, "sku %d", s.SkuID)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// CountBySku 汇总某 SKU 已落库的成功件数。
func (r *SuccessRepo) CountBySku(ctx context.Context, skuID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Success{}).
		Where("sku_id = ?", skuID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&n).Error
	return n, errors.Wrapf(err, "count success of sku %d", skuID)
}

// DeadLetterRepo 保存无法处理的消息，供人工对账。
type DeadLetterRepo struct {
	db *gorm.DB
}

func NewDeadLetterRepo(db *gorm.DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

func (r *DeadLetterRepo) Save(ctx context.Context, d *model.DeadLetter) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(d).Error, "save dead letter")
}
