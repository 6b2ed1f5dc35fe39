package model

import (
	"time"

	"gorm.io/gorm"
)

// SeckillSpu 秒杀商品（SPU）：秒杀时间段 [StartTime, EndTime) 与秒杀列表价。
type SeckillSpu struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SpuID     int64     `gorm:"uniqueIndex;not null" json:"spu_id"`
	ListPrice int64     `gorm:"not null" json:"list_price"` // 单位：分
	StartTime time.Time `gorm:"not null;index" json:"start_time"`
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`
}

func (SeckillSpu) TableName() string { return "seckill_spu" }

// OnSale 判断 t 是否落在秒杀时间段内。
func (s SeckillSpu) OnSale(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// SeckillSku 秒杀 SKU。
// SeckillStock 是权威库存；秒杀实时扣减走 Redis，成功记录异步回写这里。
type SeckillSku struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SkuID        int64 `gorm:"uniqueIndex;not null" json:"sku_id"`
	SpuID        int64 `gorm:"not null;index" json:"spu_id"`
	SeckillPrice int64 `gorm:"not null" json:"seckill_price"` // 单位：分
	SeckillStock int64 `gorm:"not null;default:0" json:"seckill_stock"`
	SeckillLimit int   `gorm:"not null;default:1" json:"seckill_limit"` // 每人限购次数
}

func (SeckillSku) TableName() string { return "seckill_sku" }
