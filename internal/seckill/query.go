package seckill

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"seckill/internal/catalog"
	"seckill/internal/repository"
	"seckill/internal/result"
	cache "seckill/pkg/redis"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Query 秒杀商品查询：列表、SPU、详情、SKU 列表。
type Query struct {
	store  Store
	views  *Views
	bloom  *cache.BloomFilter
	tokens *cache.TokenStore
	log    *logrus.Logger
	now    func() time.Time
}

func NewQuery(store Store, views *Views, bloom *cache.BloomFilter, tokens *cache.TokenStore, log *logrus.Logger) *Query {
	return &Query{store: store, views: views, bloom: bloom, tokens: tokens, log: log, now: time.Now}
}

// ListSpus 分页列出秒杀 SPU。单个商品信息取不到时只返回秒杀信息，不影响整页。
func (q *Query) ListSpus(ctx context.Context, page, size int) (SpuPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	rows, total, err := q.store.ListSpus(ctx, page, size)
	if err != nil {
		return SpuPage{}, result.Internal("查询秒杀商品列表失败", err)
	}
	list := make([]SpuView, 0, len(rows))
	for _, row := range rows {
		v, err := q.views.spuFromRow(ctx, row)
		if err != nil {
			q.log.WithError(err).WithField("spu_id", row.SpuID).Warn("compose spu view failed")
			v = toSpuView(row, catalog.Spu{})
		}
		list = append(list, v)
	}
	return SpuPage{Page: page, PageSize: size, Total: total, List: list}, nil
}

// GetSpu 查询秒杀 SPU。秒杀进行中时附带下单地址。
func (q *Query) GetSpu(ctx context.Context, spuID int64) (SpuView, error) {
	now := q.now()
	ok, err := q.bloom.Exists(ctx, now, spuID)
	if err != nil {
		return SpuView{}, result.Internal("查询商品失败", err)
	}
	if !ok {
		return SpuView{}, result.NotFound("您访问的商品不存在")
	}

	v, err := q.views.Spu(ctx, spuID)
	if err != nil {
		return SpuView{}, viewErr(err)
	}

	if !now.Before(v.StartTime) && now.Before(v.EndTime) {
		token, found, err := q.tokens.Get(ctx, spuID)
		if err != nil {
			return SpuView{}, result.Internal("查询商品失败", err)
		}
		if !found {
			return SpuView{}, result.NotFound("当前随机码不存在")
		}
		v.URL = "/seckill/" + token
	}
	return v, nil
}

func (q *Query) GetSpuDetail(ctx context.Context, spuID int64) (SpuDetailView, error) {
	d, err := q.views.SpuDetail(ctx, spuID)
	if err != nil {
		return SpuDetailView{}, viewErr(err)
	}
	return d, nil
}

func (q *Query) ListSkus(ctx context.Context, spuID int64) ([]SkuView, error) {
	list, err := q.views.Skus(ctx, spuID)
	if err != nil {
		return nil, viewErr(err)
	}
	return list, nil
}

func viewErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, catalog.ErrNotFound) {
		return result.NotFound("您访问的商品不存在")
	}
	return result.Internal("查询商品失败", err)
}
