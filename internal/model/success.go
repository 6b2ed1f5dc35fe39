package model

import "time"

// Success 秒杀成功记录，由消费者异步落库。RecordID 唯一，重复投递不会重复写入。
type Success struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RecordID     string `gorm:"size:64;uniqueIndex;not null" json:"record_id"`
	UserID       int64  `gorm:"not null;index" json:"user_id"`
	SpuID        int64  `gorm:"not null" json:"spu_id"`
	SkuID        int64  `gorm:"not null;index" json:"sku_id"`
	Quantity     int    `gorm:"not null;default:1" json:"quantity"`
	SeckillPrice int64  `gorm:"not null" json:"seckill_price"`
	OrderSn      string `gorm:"size:64;index" json:"order_sn"`
}

func (Success) TableName() string { return "seckill_success" }

// DeadLetter 无法处理的成功记录消息，留给人工对账。
type DeadLetter struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Topic     string `gorm:"size:128;not null;index" json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	MsgKey    string `gorm:"size:128" json:"msg_key"`
	Payload   string `gorm:"type:text" json:"payload"`
	Reason    string `gorm:"size:512" json:"reason"`
	Attempts  int    `json:"attempts"`
}

func (DeadLetter) TableName() string { return "seckill_dead_letter" }
