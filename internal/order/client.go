package order

import (
	"context"
	"fmt"
	"net/url"

	"seckill/internal/remote"
)

// Inventory 商品服务侧的权威库存。
type Inventory interface {
	// Decrease 扣减库存，返回受影响行数；0 表示库存不足。
	Decrease(ctx context.Context, skuID int64, quantity int) (int, error)
	Increase(ctx context.Context, skuID int64, quantity int) error
}

// Orders 订单服务。
type Orders interface {
	AddOrder(ctx context.Context, add OrderAdd) (OrderAddResult, error)
	// CancelByRequest 按幂等键撤销订单；订单不存在时视为成功。
	CancelByRequest(ctx context.Context, requestID string) error
}

type stockChange struct {
	SkuID    int64 `json:"skuId"`
	Quantity int   `json:"quantity"`
}

type HTTPInventory struct {
	c *remote.Client
}

func NewHTTPInventory(c *remote.Client) *HTTPInventory {
	return &HTTPInventory{c: c}
}

func (h *HTTPInventory) Decrease(ctx context.Context, skuID int64, quantity int) (int, error) {
	var out struct {
		Rows int `json:"rows"`
	}
	if err := h.c.Post(ctx, "/inventory/decrement", stockChange{SkuID: skuID, Quantity: quantity}, &out); err != nil {
		return 0, err
	}
	return out.Rows, nil
}

func (h *HTTPInventory) Increase(ctx context.Context, skuID int64, quantity int) error {
	return h.c.Post(ctx, "/inventory/increment", stockChange{SkuID: skuID, Quantity: quantity}, nil)
}

type HTTPOrders struct {
	c *remote.Client
}

func NewHTTPOrders(c *remote.Client) *HTTPOrders {
	return &HTTPOrders{c: c}
}

func (h *HTTPOrders) AddOrder(ctx context.Context, add OrderAdd) (OrderAddResult, error) {
	var out OrderAddResult
	err := h.c.Post(ctx, "/orders", add, &out)
	return out, err
}

func (h *HTTPOrders) CancelByRequest(ctx context.Context, requestID string) error {
	return h.c.Post(ctx, fmt.Sprintf("/orders/by-request/%s/cancel", url.PathEscape(requestID)), nil, nil)
}
