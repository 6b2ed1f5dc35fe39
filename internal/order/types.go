// Package order 将秒杀请求转换为通用订单，并通过 saga 提交到库存与订单服务。
package order

import "time"

// OrderAdd 通用下单请求。
type OrderAdd struct {
	RequestID   string         `json:"requestId"` // 订单服务按此幂等
	UserID      int64          `json:"userId"`
	TotalAmount int64          `json:"totalAmount"`
	PayAmount   int64          `json:"payAmount"`
	Items       []OrderItemAdd `json:"items"`
}

type OrderItemAdd struct {
	SpuID    int64  `json:"spuId"`
	SkuID    int64  `json:"skuId"`
	Title    string `json:"title,omitempty"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// OrderAddResult 订单服务返回的下单结果。
type OrderAddResult struct {
	ID         int64     `json:"id"`
	Sn         string    `json:"sn"`
	CreateTime time.Time `json:"createTime"`
	PayAmount  int64     `json:"payAmount"`
}
