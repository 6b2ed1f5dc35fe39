// Package seckill 秒杀准入协议与秒杀商品查询。
package seckill

import "time"

// CommitRequest 秒杀下单请求体。
type CommitRequest struct {
	SpuID    int64 `json:"spuId" binding:"required,min=1"`
	SkuID    int64 `json:"skuId" binding:"required,min=1"`
	Quantity int   `json:"quantity" binding:"omitempty,min=1"`
}

// CommitResult 下单成功后返回给前端的信息。
type CommitResult struct {
	ID         int64     `json:"id"`
	Sn         string    `json:"sn"`
	CreateTime time.Time `json:"createTime"`
	PayAmount  int64     `json:"payAmount"`
}

// SpuView 秒杀 SPU 展示信息：商品常规信息 + 秒杀信息。
// URL 只在秒杀进行中返回，形如 /seckill/{token}。
type SpuView struct {
	SpuID            int64     `json:"spuId"`
	Name             string    `json:"name"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ListPrice        int64     `json:"listPrice"`
	Unit             string    `json:"unit"`
	BrandName        string    `json:"brandName"`
	CategoryName     string    `json:"categoryName"`
	Pictures         string    `json:"pictures"`
	SeckillListPrice int64     `json:"seckillListPrice"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	URL              string    `json:"url,omitempty"`
}

type SpuDetailView struct {
	SpuID  int64  `json:"spuId"`
	Detail string `json:"detail"`
}

// SkuView 秒杀 SKU 展示信息，同时作为热路径读取限购与秒杀价的快照。
type SkuView struct {
	SkuID          int64  `json:"skuId"`
	SpuID          int64  `json:"spuId"`
	Title          string `json:"title"`
	Specifications string `json:"specifications"`
	Pictures       string `json:"pictures"`
	Price          int64  `json:"price"`
	SeckillPrice   int64  `json:"seckillPrice"`
	Stock          int64  `json:"stock"`
	SeckillLimit   int    `json:"seckillLimit"`
}

type SpuPage struct {
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int64     `json:"total"`
	List     []SpuView `json:"list"`
}
