package seckill

import (
	"time"

	"seckill/internal/catalog"
	"seckill/internal/identity"
	"seckill/internal/model"
	"seckill/internal/order"
	"seckill/internal/queue"
)

// skuRule 热路径需要的 SKU 规则。
type skuRule struct {
	SpuID int64
	Title string
	Price int64
	Limit int
}

func toOrderAdd(requestID string, user identity.User, req CommitRequest, rule skuRule) order.OrderAdd {
	amount := rule.Price * int64(req.Quantity)
	return order.OrderAdd{
		RequestID:   requestID,
		UserID:      user.ID,
		TotalAmount: amount,
		PayAmount:   amount,
		Items: []order.OrderItemAdd{{
			SpuID:    req.SpuID,
			SkuID:    req.SkuID,
			Title:    rule.Title,
			Price:    rule.Price,
			Quantity: req.Quantity,
		}},
	}
}

func toCommitResult(r order.OrderAddResult) CommitResult {
	return CommitResult{
		ID:         r.ID,
		Sn:         r.Sn,
		CreateTime: r.CreateTime,
		PayAmount:  r.PayAmount,
	}
}

func toSuccessMessage(recordID string, user identity.User, req CommitRequest, rule skuRule, r order.OrderAddResult, now time.Time) queue.SuccessMessage {
	return queue.SuccessMessage{
		RecordID:     recordID,
		UserID:       user.ID,
		SpuID:        req.SpuID,
		SkuID:        req.SkuID,
		Quantity:     req.Quantity,
		SeckillPrice: rule.Price,
		OrderSn:      r.Sn,
		CreatedAt:    now,
	}
}

func toSpuView(row model.SeckillSpu, spu catalog.Spu) SpuView {
	return SpuView{
		SpuID:            row.SpuID,
		Name:             spu.Name,
		Title:            spu.Title,
		Description:      spu.Description,
		ListPrice:        spu.ListPrice,
		Unit:             spu.Unit,
		BrandName:        spu.BrandName,
		CategoryName:     spu.CategoryName,
		Pictures:         spu.Pictures,
		SeckillListPrice: row.ListPrice,
		StartTime:        row.StartTime,
		EndTime:          row.EndTime,
	}
}

func toSkuView(row model.SeckillSku, sku catalog.Sku) SkuView {
	return SkuView{
		SkuID:          row.SkuID,
		SpuID:          row.SpuID,
		Title:          sku.Title,
		Specifications: sku.Specifications,
		Pictures:       sku.Pictures,
		Price:          sku.Price,
		SeckillPrice:   row.SeckillPrice,
		Stock:          row.SeckillStock,
		SeckillLimit:   row.SeckillLimit,
	}
}

func toSpuDetailView(d catalog.SpuDetail) SpuDetailView {
	return SpuDetailView{SpuID: d.SpuID, Detail: d.Detail}
}

func ruleFromView(v SkuView, defaultLimit int) skuRule {
	return skuRule{SpuID: v.SpuID, Title: v.Title, Price: v.SeckillPrice, Limit: limitOr(v.SeckillLimit, defaultLimit)}
}

func ruleFromRow(row model.SeckillSku, defaultLimit int) skuRule {
	return skuRule{SpuID: row.SpuID, Price: row.SeckillPrice, Limit: limitOr(row.SeckillLimit, defaultLimit)}
}

func limitOr(limit, def int) int {
	if limit > 0 {
		return limit
	}
	return def
}
