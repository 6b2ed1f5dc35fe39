package seckill

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"seckill/internal/identity"
	"seckill/internal/metrics"
	"seckill/internal/order"
	"seckill/internal/queue"
	"seckill/internal/repository"
	"seckill/internal/result"
	cache "seckill/pkg/redis"
)

const (
	msgNotFound     = "您要购买的商品不存在"
	msgRepeated     = "您已经购买过这个商品了,谢谢您的支持!"
	msgSoldOut      = "对不起,您要购买的商品暂时售罄"
	msgNoStock      = "缓存中没有库存信息,购买失败"
	msgCommitFailed = "下单失败,请稍后重试"
	msgTimeout      = "下单超时,请稍后查询订单"
)

// Committer 提交通用订单。
type Committer interface {
	Commit(ctx context.Context, add order.OrderAdd) (order.OrderAddResult, *order.Transaction, error)
}

// Emitter 发送秒杀成功事件。
type Emitter interface {
	Publish(ctx context.Context, msg queue.SuccessMessage) error
}

type Settings struct {
	MaxQuantity  int
	DefaultLimit int
	AttemptTTL   time.Duration
	EmitTimeout  time.Duration
}

// Service 秒杀准入：过滤器 → 令牌 → 限购 → 扣库存 → 下单 → 异步记录成功。
// 限购与扣库存都是单次 Redis 原子操作，进程内不加锁。
type Service struct {
	bloom   *cache.BloomFilter
	tokens  *cache.TokenStore
	ledger  *cache.Ledger
	views   *Views
	store   Store
	saga    Committer
	emitter Emitter
	cfg     Settings
	log     *logrus.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	emits sync.WaitGroup
}

type Deps struct {
	Bloom   *cache.BloomFilter
	Tokens  *cache.TokenStore
	Ledger  *cache.Ledger
	Views   *Views
	Store   Store
	Saga    Committer
	Emitter Emitter
	Log     *logrus.Logger
	Metrics *metrics.Metrics
}

func NewService(d Deps, cfg Settings) *Service {
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = 1
	}
	if cfg.DefaultLimit < 1 {
		cfg.DefaultLimit = 1
	}
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = 24 * time.Hour
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = 3 * time.Second
	}
	return &Service{
		bloom:   d.Bloom,
		tokens:  d.Tokens,
		ledger:  d.Ledger,
		views:   d.Views,
		store:   d.Store,
		saga:    d.Saga,
		emitter: d.Emitter,
		cfg:     cfg,
		log:     d.Log,
		metrics: d.Metrics,
		tracer:  otel.Tracer("seckill/seckill"),
		now:     time.Now,
	}
}

// Commit 执行一次秒杀。user 由认证中间件解析后显式传入。
func (s *Service) Commit(ctx context.Context, user identity.User, token string, req CommitRequest) (CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "seckill.Commit", trace.WithAttributes(
		attribute.Int64("user_id", user.ID),
		attribute.Int64("spu_id", req.SpuID),
		attribute.Int64("sku_id", req.SkuID),
	))
	defer span.End()

	res, err := s.commit(ctx, user, token, req)
	s.metrics.Commit(outcome(err))
	if err != nil {
		span.RecordError(err)
		if !result.IsBusiness(err) {
			span.SetStatus(codes.Error, "seckill commit failed")
		}
	}
	return res, err
}

func (s *Service) commit(ctx context.Context, user identity.User, token string, req CommitRequest) (CommitResult, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 || req.Quantity > s.cfg.MaxQuantity {
		return CommitResult{}, result.BadRequest(fmt.Sprintf("购买数量必须在 1 到 %d 之间", s.cfg.MaxQuantity))
	}

	now := s.now()
	ok, err := s.bloom.Exists(ctx, now, req.SpuID)
	if err != nil {
		return CommitResult{}, result.Internal("服务器忙,请稍候再试", err)
	}
	if !ok {
		return CommitResult{}, result.NotFound(msgNotFound)
	}

	// 令牌不存在与不匹配返回同样的结果，不泄露商品是否在售。
	cur, found, err := s.tokens.Get(ctx, req.SpuID)
	if err != nil {
		return CommitResult{}, result.Internal("服务器忙,请稍候再试", err)
	}
	if !found || subtle.ConstantTimeCompare([]byte(cur), []byte(token)) != 1 {
		return CommitResult{}, result.NotFound(msgNotFound)
	}

	// 令牌在活动开始前已预热，是否可买以活动时间为准。
	start, end, err := s.saleWindow(ctx, req.SpuID)
	if err != nil {
		return CommitResult{}, err
	}
	if now.Before(start) || !now.Before(end) {
		return CommitResult{}, result.NotFound(msgNotFound)
	}

	rule, err := s.skuRule(ctx, req.SkuID)
	if err != nil {
		return CommitResult{}, err
	}
	if rule.SpuID != req.SpuID {
		return CommitResult{}, result.NotFound(msgNotFound)
	}

	n, err := s.ledger.IncrAttempt(ctx, req.SkuID, user.ID, s.cfg.AttemptTTL)
	if err != nil {
		return CommitResult{}, result.Internal("服务器忙,请稍候再试", err)
	}
	if n > int64(rule.Limit) {
		return CommitResult{}, result.Forbidden(msgRepeated)
	}

	left, err := s.ledger.DecrStock(ctx, req.SkuID, req.Quantity)
	if errors.Is(err, cache.ErrStockNotCached) {
		return CommitResult{}, result.Internal(msgNoStock, err)
	}
	if err != nil {
		return CommitResult{}, result.Internal("服务器忙,请稍候再试", err)
	}
	if left < 0 {
		// 售罄不回补计数。
		return CommitResult{}, result.SoldOut(msgSoldOut)
	}

	requestID := uuid.NewString()
	add := toOrderAdd(requestID, user, req, rule)
	res, tx, err := s.saga.Commit(ctx, add)
	if err != nil {
		entry := s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"user_id":    user.ID,
			"sku_id":     req.SkuID,
		}).WithError(err)
		if tx != nil {
			entry = entry.WithField("tx_state", tx.State)
		}
		entry.Warn("seckill order commit failed")

		switch {
		case errors.Is(err, order.ErrCommitTimeout):
			return CommitResult{}, result.Timeout(msgTimeout, err)
		case errors.Is(err, order.ErrInventoryShortage):
			return CommitResult{}, result.SoldOut(msgSoldOut)
		default:
			return CommitResult{}, result.Internal(msgCommitFailed, err)
		}
	}

	s.emit(ctx, toSuccessMessage(requestID, user, req, rule, res, now))
	return toCommitResult(res), nil
}

// saleWindow 优先读 SPU 快照，未命中时查库。
func (s *Service) saleWindow(ctx context.Context, spuID int64) (time.Time, time.Time, error) {
	if sv, ok := s.views.CachedSpu(ctx, spuID); ok {
		return sv.StartTime, sv.EndTime, nil
	}
	row, err := s.store.FindSpu(ctx, spuID)
	if errors.Is(err, repository.ErrNotFound) {
		return time.Time{}, time.Time{}, result.NotFound(msgNotFound)
	}
	if err != nil {
		return time.Time{}, time.Time{}, result.Internal("服务器忙,请稍候再试", err)
	}
	return row.StartTime, row.EndTime, nil
}

// skuRule 优先读预热的 SKU 快照，未命中时查库。
func (s *Service) skuRule(ctx context.Context, skuID int64) (skuRule, error) {
	if sv, ok := s.views.CachedSku(ctx, skuID); ok {
		return ruleFromView(sv, s.cfg.DefaultLimit), nil
	}
	row, err := s.store.FindSku(ctx, skuID)
	if errors.Is(err, repository.ErrNotFound) {
		return skuRule{}, result.NotFound(msgNotFound)
	}
	if err != nil {
		return skuRule{}, result.Internal("服务器忙,请稍候再试", err)
	}
	return ruleFromRow(row, s.cfg.DefaultLimit), nil
}

// emit 异步写 outbox，不阻塞响应；失败只记录。
// 沿用请求的 trace，但不随请求结束而取消。
func (s *Service) emit(parent context.Context, msg queue.SuccessMessage) {
	s.emits.Add(1)
	go func() {
		defer s.emits.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.EmitTimeout)
		defer cancel()
		if err := s.emitter.Publish(ctx, msg); err != nil {
			s.metrics.OutboxFailure()
			s.log.WithError(err).WithFields(logrus.Fields{
				"record_id": msg.RecordID,
				"order_sn":  msg.OrderSn,
			}).Error("publish seckill success failed")
		}
	}()
}

// Wait 等待已发出的成功事件写完，用于退出前。
func (s *Service) Wait() {
	s.emits.Wait()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch result.KindOf(err) {
	case result.KindNotFound:
		return "not_found"
	case result.KindForbidden:
		return "forbidden"
	case result.KindSoldOut:
		return "sold_out"
	case result.KindBadRequest:
		return "bad_request"
	case result.KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}
