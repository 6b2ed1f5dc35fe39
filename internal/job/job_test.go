package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"seckill/internal/model"
	"seckill/internal/repository"
	cache "seckill/pkg/redis"
)

type fakeWarmer struct {
	mu   sync.Mutex
	spus []int64
	err  error
}

func (f *fakeWarmer) Warm(ctx context.Context, spu model.SeckillSpu, skus []model.SeckillSku, ttl, jitter time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spus = append(f.spus, spu.SpuID)
	return f.err
}

func newTestEnv(t *testing.T) (*miniredis.Miniredis, *rd.Client, *gorm.DB) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := repository.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return mr, rdb, db
}

func seed(t *testing.T, db *gorm.DB, spuID, skuID, stock int64, start, end time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&model.SeckillSpu{SpuID: spuID, ListPrice: 100, StartTime: start, EndTime: end}).Error)
	require.NoError(t, db.Create(&model.SeckillSku{SkuID: skuID, SpuID: spuID, SeckillPrice: 50, SeckillStock: stock, SeckillLimit: 1}).Error)
}

func TestPreheater_SeedsUpcomingSales(t *testing.T) {
	mr, rdb, db := newTestEnv(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	seed(t, db, 1, 11, 10, now.Add(3*time.Minute), now.Add(time.Hour))
	seed(t, db, 2, 21, 10, now.Add(time.Hour), now.Add(2*time.Hour))

	log, _ := test.NewNullLogger()
	warmer := &fakeWarmer{}
	ledger := cache.NewLedger(rdb)
	tokens := cache.NewTokenStore(rdb)
	p := NewPreheater(repository.NewSeckillRepo(db), ledger, tokens, warmer,
		PreheatConfig{Lead: 5 * time.Minute, Jitter: 30 * time.Second, SnapshotTTL: 5 * time.Minute}, log, nil)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Run(context.Background()))

	stock, ok, err := ledger.Stock(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 10, stock)

	_, ok, err = ledger.Stock(context.Background(), 21)
	require.NoError(t, err)
	assert.False(t, ok, "outside lead time")

	_, found, err := tokens.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int64{1}, warmer.spus)

	// TTL 覆盖活动剩余时间加提前量
	ttl := mr.TTL(cache.StockKey(11))
	assert.GreaterOrEqual(t, ttl, time.Hour+5*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour+5*time.Minute+30*time.Second)

	// 令牌不超过活动结束
	assert.Equal(t, time.Hour, mr.TTL(cache.TokenKey(1)))
}

func TestPreheater_RerunDoesNotResetCounter(t *testing.T) {
	_, rdb, db := newTestEnv(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	seed(t, db, 1, 11, 10, now.Add(-time.Minute), now.Add(time.Hour))

	log, _ := test.NewNullLogger()
	ledger := cache.NewLedger(rdb)
	tokens := cache.NewTokenStore(rdb)
	p := NewPreheater(repository.NewSeckillRepo(db), ledger, tokens, &fakeWarmer{},
		PreheatConfig{Lead: 5 * time.Minute}, log, nil)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, p.Run(ctx))
	token, _, err := tokens.Get(ctx, 1)
	require.NoError(t, err)

	left, err := ledger.DecrStock(ctx, 11, 3)
	require.NoError(t, err)
	require.EqualValues(t, 7, left)

	require.NoError(t, p.Run(ctx))
	stock, _, err := ledger.Stock(ctx, 11)
	require.NoError(t, err)
	assert.EqualValues(t, 7, stock)

	again, _, err := tokens.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, token, again)
}

func TestPreheater_ContinuesAfterSnapshotFailure(t *testing.T) {
	_, rdb, db := newTestEnv(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	seed(t, db, 1, 11, 10, now.Add(-time.Minute), now.Add(time.Hour))
	seed(t, db, 2, 21, 10, now.Add(-time.Minute), now.Add(time.Hour))

	log, hook := test.NewNullLogger()
	ledger := cache.NewLedger(rdb)
	warmer := &fakeWarmer{err: errors.New("catalog down")}
	p := NewPreheater(repository.NewSeckillRepo(db), ledger, cache.NewTokenStore(rdb), warmer,
		PreheatConfig{Lead: 5 * time.Minute}, log, nil)
	p.now = func() time.Time { return now }

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, warmer.spus)

	for _, sku := range []int64{11, 21} {
		_, ok, err := ledger.Stock(context.Background(), sku)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.NotEmpty(t, hook.AllEntries())
}

func TestBloomRefresher_TodayAndTomorrow(t *testing.T) {
	_, rdb, db := newTestEnv(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	seed(t, db, 1, 11, 10, now.Add(time.Hour), now.Add(2*time.Hour))
	seed(t, db, 2, 21, 10, now.Add(20*time.Hour), now.Add(21*time.Hour))

	log, _ := test.NewNullLogger()
	bloom := cache.NewBloomFilter(rdb, 1000, 0.001, 48*time.Hour)
	b := NewBloomRefresher(repository.NewSeckillRepo(db), bloom, true, log, nil)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Run(ctx))

	ok, err := bloom.Exists(ctx, now, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = bloom.Exists(ctx, now, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	tomorrow := now.AddDate(0, 0, 1)
	ok, err = bloom.Exists(ctx, tomorrow, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBloomRefresher_NeverRemoves(t *testing.T) {
	_, rdb, db := newTestEnv(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local)
	seed(t, db, 1, 11, 10, now.Add(time.Hour), now.Add(2*time.Hour))

	log, _ := test.NewNullLogger()
	bloom := cache.NewBloomFilter(rdb, 1000, 0.001, 48*time.Hour)
	b := NewBloomRefresher(repository.NewSeckillRepo(db), bloom, false, log, nil)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Run(ctx))
	require.NoError(t, db.Where("spu_id = ?", 1).Delete(&model.SeckillSpu{}).Error)
	require.NoError(t, b.Run(ctx))

	ok, err := bloom.Exists(ctx, now, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
