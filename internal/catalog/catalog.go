// Package catalog 商品服务的只读客户端，提供 SPU / SKU 常规信息。
package catalog

import (
	"context"
	"errors"
	"fmt"

	"seckill/internal/remote"
)

// ErrNotFound 商品服务中不存在该商品。
var ErrNotFound = errors.New("catalog item not found")

type Spu struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ListPrice    int64  `json:"listPrice"`
	Unit         string `json:"unit"`
	BrandName    string `json:"brandName"`
	CategoryName string `json:"categoryName"`
	Keywords     string `json:"keywords"`
	Pictures     string `json:"pictures"`
}

type SpuDetail struct {
	ID     int64  `json:"id"`
	SpuID  int64  `json:"spuId"`
	Detail string `json:"detail"`
}

type Sku struct {
	ID             int64  `json:"id"`
	SpuID          int64  `json:"spuId"`
	Title          string `json:"title"`
	BarCode        string `json:"barCode"`
	Specifications string `json:"specifications"`
	Price          int64  `json:"price"`
	Pictures       string `json:"pictures"`
}

// Catalog 查询商品常规信息。
type Catalog interface {
	GetSpu(ctx context.Context, spuID int64) (Spu, error)
	GetSpuDetail(ctx context.Context, spuID int64) (SpuDetail, error)
	GetSku(ctx context.Context, skuID int64) (Sku, error)
}

// HTTPCatalog 通过 HTTP 调用商品服务。
type HTTPCatalog struct {
	c *remote.Client
}

func NewHTTPCatalog(c *remote.Client) *HTTPCatalog {
	return &HTTPCatalog{c: c}
}

func (h *HTTPCatalog) GetSpu(ctx context.Context, spuID int64) (Spu, error) {
	var out Spu
	err := h.c.Get(ctx, fmt.Sprintf("/spus/%d", spuID), &out)
	return out, mapErr(err)
}

func (h *HTTPCatalog) GetSpuDetail(ctx context.Context, spuID int64) (SpuDetail, error) {
	var out SpuDetail
	err := h.c.Get(ctx, fmt.Sprintf("/spus/%d/detail", spuID), &out)
	return out, mapErr(err)
}

func (h *HTTPCatalog) GetSku(ctx context.Context, skuID int64) (Sku, error) {
	var out Sku
	err := h.c.Get(ctx, fmt.Sprintf("/skus/%d", skuID), &out)
	return out, mapErr(err)
}

func mapErr(err error) error {
	if errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
