package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"seckill/internal/guard"
	"seckill/internal/identity"
	"seckill/internal/metrics"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/result"
	"seckill/internal/seckill"
)

const (
	msgBusy      = "服务器忙,请稍候再试"
	msgException = "发生异常,异常信息为:"
)

// Committer 秒杀下单。
type Committer interface {
	Commit(ctx context.Context, user identity.User, token string, req seckill.CommitRequest) (seckill.CommitResult, error)
}

// Querier 秒杀商品查询。
type Querier interface {
	ListSpus(ctx context.Context, page, size int) (seckill.SpuPage, error)
	GetSpu(ctx context.Context, spuID int64) (seckill.SpuView, error)
	GetSpuDetail(ctx context.Context, spuID int64) (seckill.SpuDetailView, error)
	ListSkus(ctx context.Context, spuID int64) ([]seckill.SkuView, error)
}

// 运维对账：缓存库存、权威库存、已落库的成功记录数。
type (
	StockReader interface {
		Stock(ctx context.Context, skuID int64) (int64, bool, error)
	}
	SkuFinder interface {
		FindSku(ctx context.Context, skuID int64) (model.SeckillSku, error)
	}
	RecordCounter interface {
		CountBySku(ctx context.Context, skuID int64) (int64, error)
	}
)

type Limits struct {
	SeckillQPS          float64
	UserRateLimit       int
	UserRateWindow      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

type Deps struct {
	Seckill    Committer
	Query      Querier
	Stock      StockReader
	Skus       SkuFinder
	Records    RecordCounter
	Verifier   *identity.Verifier
	Redis      rd.UniversalClient
	Log        *logrus.Logger
	Metrics    *metrics.Metrics
	Limits     Limits
	AdminToken string
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	g := r.Group("/seckill")
	g.GET("/spu/list", listSpus(d.Query))
	g.GET("/spu/:spuId", getSpu(d.Query))
	g.GET("/spu/:spuId/detail", getSpuDetail(d.Query))
	g.GET("/sku/list/:spuId", listSkus(d.Query))
	g.GET("/admin/stock/:skuId", adminStock(d.Stock, d.Skus, d.Records, d.AdminToken))

	commitGuard := guard.New(guard.Options[result.JSONResult]{
		Name:          "seckill-commit",
		QPS:           d.Limits.SeckillQPS,
		Busy:          func() result.JSONResult { return result.Failed(result.Overloaded(msgBusy)) },
		Fallback:      commitFallback(d.Log),
		MinRequests:   d.Limits.BreakerMinRequests,
		FailureRatio:  d.Limits.BreakerFailureRatio,
		OpenTimeout:   d.Limits.BreakerOpenTimeout,
		OnStateChange: d.Metrics.BreakerState,
	})
	g.POST("/:token",
		middleware.RequireRole(d.Verifier, identity.RoleUser),
		middleware.RedisRateLimit(d.Redis, d.Limits.UserRateLimit, d.Limits.UserRateWindow, d.Log),
		commit(d.Seckill, commitGuard),
	)
}

// commitFallback 下游故障或熔断打开时的降级响应。
func commitFallback(log *logrus.Logger) func(err error) result.JSONResult {
	return func(err error) result.JSONResult {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return result.Failed(result.Degraded(msgException + err.Error()))
		}
		log.WithError(err).Warn("seckill commit degraded")
		r := result.Failed(err)
		if r.Code == http.StatusInternalServerError {
			r.Code = http.StatusServiceUnavailable
		}
		r.Msg = msgException + r.Msg
		return r
	}
}

func commit(svc Committer, gd *guard.Guard[result.JSONResult]) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			writeErr(c, result.Unauthorized("请先登录"))
			return
		}
		var req seckill.CommitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, result.BadRequest("请求参数错误: "+err.Error()))
			return
		}

		token := c.Param("token")
		res, err := gd.Do(c.Request.Context(), func(ctx context.Context) (result.JSONResult, error) {
			out, err := svc.Commit(ctx, user, token, req)
			if err != nil {
				return result.JSONResult{}, err
			}
			return result.OK(out), nil
		})
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(res.Status(), res)
	}
}

func listSpus(q Querier) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		size, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))
		out, err := q.ListSpus(c.Request.Context(), page, size)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result.OK(out))
	}
}

func getSpu(q Querier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "spuId")
		if !ok {
			return
		}
		out, err := q.GetSpu(c.Request.Context(), id)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result.OK(out))
	}
}

func getSpuDetail(q Querier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "spuId")
		if !ok {
			return
		}
		out, err := q.GetSpuDetail(c.Request.Context(), id)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result.OK(out))
	}
}

func listSkus(q Querier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "spuId")
		if !ok {
			return
		}
		out, err := q.ListSkus(c.Request.Context(), id)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, result.OK(out))
	}
}

// adminStock 对比缓存库存与数据库库存，用于发现两者漂移。
func adminStock(stock StockReader, skus SkuFinder, records RecordCounter, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Admin-Token")), []byte(adminToken)) != 1 {
			writeErr(c, result.Unauthorized("admin token 无效"))
			return
		}
		id, ok := pathID(c, "skuId")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		row, err := skus.FindSku(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			writeErr(c, result.NotFound("SKU 不存在"))
			return
		}
		if err != nil {
			writeErr(c, result.Internal("查询库存失败", err))
			return
		}
		cached, present, err := stock.Stock(ctx, id)
		if err != nil {
			writeErr(c, result.Internal("查询缓存库存失败", err))
			return
		}
		recorded, err := records.CountBySku(ctx, id)
		if err != nil {
			writeErr(c, result.Internal("查询成功记录失败", err))
			return
		}

		data := gin.H{
			"skuId":        id,
			"dbStock":      row.SeckillStock,
			"cachePresent": present,
			"recorded":     recorded,
		}
		if present {
			data["cacheStock"] = cached
		}
		c.JSON(http.StatusOK, result.OK(data))
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeErr(c, result.BadRequest(name+" 无效"))
		return 0, false
	}
	return id, true
}

func writeErr(c *gin.Context, err error) {
	r := result.Failed(err)
	c.JSON(r.Status(), r)
}
