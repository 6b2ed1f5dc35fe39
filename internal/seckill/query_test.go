package seckill

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seckill/internal/model"
	"seckill/internal/result"
)

func TestQuery_GetSpuInWindowCarriesURL(t *testing.T) {
	f := newFixture(t)
	token := f.seedSale(t, 1, 11, 5, 1)

	v, err := f.query.GetSpu(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "/seckill/"+token, v.URL)
	assert.Equal(t, "spu-1", v.Name)
	assert.EqualValues(t, 1000, v.SeckillListPrice)
}

func TestQuery_GetSpuOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)
	// 活动尚未开始
	f.now = f.now.Add(-time.Hour)
	require.NoError(t, f.bloom.Add(context.Background(), f.now, 1))

	v, err := f.query.GetSpu(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, v.URL)
}

func TestQuery_GetSpuBloomMiss(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.SeckillSpu{
		SpuID: 9, StartTime: f.now.Add(-time.Minute), EndTime: f.now.Add(time.Hour),
	}).Error)

	_, err := f.query.GetSpu(context.Background(), 9)
	assert.Equal(t, result.KindNotFound, result.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(&f.cat.calls))
}

func TestQuery_GetSpuMissingToken(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)
	f.mr.Del("seckill:spu:token:1")

	_, err := f.query.GetSpu(context.Background(), 1)
	assert.Equal(t, result.KindNotFound, result.KindOf(err))
	assert.Equal(t, "当前随机码不存在", result.Failed(err).Msg)
}

func TestQuery_GetSpuSingleflight(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.query.GetSpu(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&f.cat.calls), int32(2))

	// 之后全部命中缓存
	before := atomic.LoadInt32(&f.cat.calls)
	_, err := f.query.GetSpu(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&f.cat.calls))
}

func TestQuery_ListSpus(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)
	f.seedSale(t, 2, 21, 5, 1)

	page, err := f.query.ListSpus(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
	assert.EqualValues(t, 2, page.Total)
	assert.Len(t, page.List, 2)

	page, err = f.query.ListSpus(context.Background(), 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.PageSize)
}

func TestQuery_ListSpusToleratesCatalogFailure(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)
	f.cat.mu.Lock()
	f.cat.fail = errBoom
	f.cat.mu.Unlock()

	page, err := f.query.ListSpus(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.List, 1)
	assert.EqualValues(t, 1, page.List[0].SpuID)
	assert.Empty(t, page.List[0].Name)
	assert.EqualValues(t, 1000, page.List[0].SeckillListPrice)
}

func TestQuery_DetailAndSkus(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 3)
	ctx := context.Background()

	d, err := f.query.GetSpuDetail(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "detail-1", d.Detail)

	skus, err := f.query.ListSkus(ctx, 1)
	require.NoError(t, err)
	require.Len(t, skus, 1)
	assert.Equal(t, "sku-11", skus[0].Title)
	assert.EqualValues(t, 500, skus[0].SeckillPrice)
	assert.Equal(t, 3, skus[0].SeckillLimit)

	_, err = f.query.GetSpuDetail(ctx, 404)
	assert.Equal(t, result.KindNotFound, result.KindOf(err))
}

func TestQuery_CatalogErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	f.seedSale(t, 1, 11, 5, 1)
	f.cat.mu.Lock()
	f.cat.fail = errBoom
	f.cat.mu.Unlock()

	_, err := f.query.GetSpuDetail(context.Background(), 1)
	assert.Equal(t, result.KindInternal, result.KindOf(err))
}
