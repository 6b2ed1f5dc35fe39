package seckill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"seckill/internal/catalog"
	"seckill/internal/model"
	"seckill/internal/order"
	"seckill/internal/queue"
	"seckill/internal/repository"
	cache "seckill/pkg/redis"
)

type fakeCatalog struct {
	mu    sync.Mutex
	spus  map[int64]catalog.Spu
	skus  map[int64]catalog.Sku
	fail  error
	calls int32
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{spus: map[int64]catalog.Spu{}, skus: map[int64]catalog.Sku{}}
}

func (f *fakeCatalog) GetSpu(ctx context.Context, spuID int64) (catalog.Spu, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return catalog.Spu{}, f.fail
	}
	s, ok := f.spus[spuID]
	if !ok {
		return catalog.Spu{}, catalog.ErrNotFound
	}
	return s, nil
}

func (f *fakeCatalog) GetSpuDetail(ctx context.Context, spuID int64) (catalog.SpuDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return catalog.SpuDetail{}, f.fail
	}
	if _, ok := f.spus[spuID]; !ok {
		return catalog.SpuDetail{}, catalog.ErrNotFound
	}
	return catalog.SpuDetail{SpuID: spuID, Detail: fmt.Sprintf("detail-%d", spuID)}, nil
}

func (f *fakeCatalog) GetSku(ctx context.Context, skuID int64) (catalog.Sku, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return catalog.Sku{}, f.fail
	}
	s, ok := f.skus[skuID]
	if !ok {
		return catalog.Sku{}, catalog.ErrNotFound
	}
	return s, nil
}

type fakeSaga struct {
	mu    sync.Mutex
	err   error
	calls []order.OrderAdd
	seq   int64
}

func (f *fakeSaga) Commit(ctx context.Context, add order.OrderAdd) (order.OrderAddResult, *order.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, add)
	tx := &order.Transaction{ID: add.RequestID, State: order.StatePending}
	if f.err != nil {
		tx.State = order.StateCompensated
		return order.OrderAddResult{}, tx, f.err
	}
	f.seq++
	tx.State = order.StateCommitted
	return order.OrderAddResult{ID: f.seq, Sn: "SN-" + add.RequestID, CreateTime: time.Now(), PayAmount: add.PayAmount}, tx, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	msgs   []queue.SuccessMessage
	traces []trace.TraceID
	err    error
}

func (f *fakeEmitter) Publish(ctx context.Context, msg queue.SuccessMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.msgs = append(f.msgs, msg)
	f.traces = append(f.traces, trace.SpanContextFromContext(ctx).TraceID())
	return nil
}

type fixture struct {
	mr      *miniredis.Miniredis
	rdb     *rd.Client
	db      *gorm.DB
	log     *logrus.Logger
	hook    *test.Hook
	cat     *fakeCatalog
	saga    *fakeSaga
	emitter *fakeEmitter
	bloom   *cache.BloomFilter
	tokens  *cache.TokenStore
	ledger  *cache.Ledger
	views   *Views
	repo    *repository.SeckillRepo
	svc     *Service
	query   *Query
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
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

	log, hook := test.NewNullLogger()
	f := &fixture{
		mr:      mr,
		rdb:     rdb,
		db:      db,
		log:     log,
		hook:    hook,
		cat:     newFakeCatalog(),
		saga:    &fakeSaga{},
		emitter: &fakeEmitter{},
		bloom:   cache.NewBloomFilter(rdb, 1000, 0.001, 48*time.Hour),
		tokens:  cache.NewTokenStore(rdb),
		ledger:  cache.NewLedger(rdb),
		repo:    repository.NewSeckillRepo(db),
		now:     time.Now(),
	}
	f.views = NewViews(f.repo, f.cat, cache.NewSnapshotCache(rdb, 5*time.Minute, 30*time.Second), log)
	f.svc = NewService(Deps{
		Bloom:   f.bloom,
		Tokens:  f.tokens,
		Ledger:  f.ledger,
		Views:   f.views,
		Store:   f.repo,
		Saga:    f.saga,
		Emitter: f.emitter,
		Log:     log,
	}, Settings{MaxQuantity: 2, DefaultLimit: 1})
	f.svc.now = func() time.Time { return f.now }
	f.query = NewQuery(f.repo, f.views, f.bloom, f.tokens, log)
	f.query.now = func() time.Time { return f.now }
	return f
}

// seedSale 写入一个进行中的秒杀并完成缓存准备，返回访问令牌。
func (f *fixture) seedSale(t *testing.T, spuID, skuID, stock int64, limit int) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.Create(&model.SeckillSpu{
		SpuID: spuID, ListPrice: 1000, StartTime: f.now.Add(-time.Minute), EndTime: f.now.Add(time.Hour),
	}).Error)
	require.NoError(t, f.db.Create(&model.SeckillSku{
		SkuID: skuID, SpuID: spuID, SeckillPrice: 500, SeckillStock: stock, SeckillLimit: limit,
	}).Error)
	f.cat.mu.Lock()
	f.cat.spus[spuID] = catalog.Spu{ID: spuID, Name: fmt.Sprintf("spu-%d", spuID), ListPrice: 2000}
	f.cat.skus[skuID] = catalog.Sku{ID: skuID, SpuID: spuID, Title: fmt.Sprintf("sku-%d", skuID), Price: 2000}
	f.cat.mu.Unlock()

	require.NoError(t, f.bloom.Add(ctx, f.now, spuID))
	token, _, err := f.tokens.Ensure(ctx, spuID, time.Hour)
	require.NoError(t, err)
	_, err = f.ledger.SeedStock(ctx, skuID, stock, time.Hour)
	require.NoError(t, err)
	return token
}

var errBoom = errors.New("boom")
