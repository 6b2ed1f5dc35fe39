package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"seckill/internal/catalog"
	"seckill/internal/config"
	"seckill/internal/identity"
	"seckill/internal/job"
	"seckill/internal/metrics"
	"seckill/internal/middleware"
	"seckill/internal/order"
	"seckill/internal/queue"
	"seckill/internal/remote"
	"seckill/internal/repository"
	"seckill/internal/router"
	"seckill/internal/scheduler"
	"seckill/internal/seckill"
	cache "seckill/pkg/redis"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	// 1. 数据库：秒杀商品、成功记录、死信
	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	seckillRepo := repository.NewSeckillRepo(db)
	successRepo := repository.NewSuccessRepo(db)

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := pingRedis(ctx, rdb); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. 远程协作方，各自独立熔断
	newRemote := func(name, url string) *remote.Client {
		return remote.New(remote.Options{
			Name:          name,
			BaseURL:       url,
			Timeout:       cfg.RemoteTimeout,
			Log:           log,
			OnStateChange: m.BreakerState,
		})
	}
	cat := catalog.NewHTTPCatalog(newRemote("catalog", cfg.CatalogURL))
	saga := order.NewSaga(
		order.NewHTTPInventory(newRemote("inventory", cfg.InventoryURL)),
		order.NewHTTPOrders(newRemote("order", cfg.OrderURL)),
		cfg.CommitTimeout,
		log,
	)

	// 4. 缓存组件
	ledger := cache.NewLedger(rdb)
	tokens := cache.NewTokenStore(rdb)
	bloom := cache.NewBloomFilter(rdb, cfg.BloomExpectedItems, cfg.BloomFalsePositive, 48*time.Hour)
	views := seckill.NewViews(seckillRepo, cat, cache.NewSnapshotCache(rdb, cfg.SnapshotTTL, cfg.CacheJitter), log)

	// 5. 成功记录链路：热路径 → Redis Stream outbox → Relay → Kafka → Consumer → DB
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.SuccessStream, cfg.SuccessGroup, cfg.SuccessConsumer, log)
	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		MaxAttempts: cfg.RecorderMaxAttempts,
		Backoff:     cfg.RecorderBackoff,
	}, successRepo, repository.NewDeadLetterRepo(db), log, m)
	defer consumer.Close()

	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	// 6. 定时任务
	preheater := job.NewPreheater(seckillRepo, ledger, tokens, views, job.PreheatConfig{
		Lead:        cfg.PreheatLeadTime,
		Jitter:      cfg.CacheJitter,
		SnapshotTTL: cfg.SnapshotTTL,
	}, log, m)
	bloomJob := job.NewBloomRefresher(seckillRepo, bloom, cfg.BloomTomorrow, log, m)
	runner := scheduler.NewRunner(log, m)
	runner.Register("bloom", cfg.BloomInterval, bloomJob.Run)
	runner.Register("preheat", cfg.PreheatInterval, preheater.Run)
	runner.Start(ctx, &wg)

	// 7. HTTP
	svc := seckill.NewService(seckill.Deps{
		Bloom:   bloom,
		Tokens:  tokens,
		Ledger:  ledger,
		Views:   views,
		Store:   seckillRepo,
		Saga:    saga,
		Emitter: queue.NewOutbox(rdb, cfg.SuccessStream),
		Log:     log,
		Metrics: m,
	}, seckill.Settings{
		MaxQuantity:  cfg.MaxQuantity,
		DefaultLimit: cfg.DefaultUserLimit,
		AttemptTTL:   cfg.AttemptTTL,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	router.Setup(r, router.Deps{
		Seckill:  svc,
		Query:    seckill.NewQuery(seckillRepo, views, bloom, tokens, log),
		Stock:    ledger,
		Skus:     seckillRepo,
		Records:  successRepo,
		Verifier: identity.NewVerifier(cfg.JWTSecret),
		Redis:    rdb,
		Log:      log,
		Metrics:  m,
		Limits: router.Limits{
			SeckillQPS:          float64(cfg.SeckillQPS),
			UserRateLimit:       cfg.UserRateLimit,
			UserRateWindow:      cfg.UserRateWindow,
			BreakerMinRequests:  cfg.BreakerMinRequests,
			BreakerFailureRatio: cfg.BreakerFailureRatio,
			BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
		},
		AdminToken: cfg.AdminToken,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("seckill server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	// 先等待未写完的成功事件，再停后台任务
	svc.Wait()
	wg.Wait()
	log.Info("bye")
}

// pingRedis 启动时 Redis 可能尚未就绪，重试几次。
func pingRedis(ctx context.Context, rdb *rd.Client) error {
	var err error
	for i := 0; i < 5; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		log.WithError(err).Warn("redis not ready, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return err
}
