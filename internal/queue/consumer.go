package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"seckill/internal/metrics"
	"seckill/internal/model"
	"seckill/internal/repository"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SuccessStore 成功记录落库；重复记录返回 (false, nil)。
type SuccessStore interface {
	Record(ctx context.Context, s *model.Success) (bool, error)
}

type DeadLetterStore interface {
	Save(ctx context.Context, d *model.DeadLetter) error
}

// Consumer 消费成功事件并落库。至少一次：处理完成（成功或进入死信）后才提交 offset。
type Consumer struct {
	r       messageReader
	store   SuccessStore
	dlq     DeadLetterStore
	log     *logrus.Logger
	metrics *metrics.Metrics

	maxAttempts int
	backoff     time.Duration
}

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MaxAttempts int
	Backoff     time.Duration
}

func NewConsumer(cfg ConsumerConfig, store SuccessStore, dlq DeadLetterStore, log *logrus.Logger, m *metrics.Metrics) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1e3,
		MaxBytes:    1e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, store, dlq, log, m, cfg.MaxAttempts, cfg.Backoff)
}

func newConsumer(r messageReader, store SuccessStore, dlq DeadLetterStore, log *logrus.Logger, m *metrics.Metrics, maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{
		r:           r,
		store:       store,
		dlq:         dlq,
		log:         log,
		metrics:     m,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("recorder fetch failed")
			sleepCtx(ctx, 300*time.Millisecond)
			continue
		}

		if !c.handle(ctx, m) {
			// 处理被取消，不提交 offset，重启后重新投递。
			return
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).WithField("offset", m.Offset).Warn("recorder commit offset failed")
		}
	}
}

// handle 返回 false 表示处理因 ctx 取消而中断。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var msg SuccessMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		c.deadLetter(ctx, m, "invalid payload: "+err.Error(), 0)
		return true
	}
	if err := msg.Validate(); err != nil {
		c.deadLetter(ctx, m, "invalid message: "+err.Error(), 0)
		return true
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		inserted, err := c.store.Record(ctx, toSuccessModel(msg))
		if err == nil {
			if inserted {
				c.metrics.Recorder("recorded")
			} else {
				c.metrics.Recorder("duplicate")
				c.log.WithField("record_id", msg.RecordID).Info("recorder skip duplicate")
			}
			return true
		}
		if errors.Is(err, repository.ErrStockShortage) {
			c.deadLetter(ctx, m, err.Error(), attempt)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		lastErr = err
		c.metrics.Recorder("retry")
		c.log.WithError(err).WithFields(logrus.Fields{
			"record_id": msg.RecordID,
			"attempt":   attempt,
		}).Warn("recorder handle failed")
		if attempt < c.maxAttempts {
			sleepCtx(ctx, c.backoff*time.Duration(attempt))
			if ctx.Err() != nil {
				return false
			}
		}
	}
	c.deadLetter(ctx, m, lastErr.Error(), c.maxAttempts)
	return true
}

// deadLetter 写死信失败只记日志，offset 照常提交。
func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, reason string, attempts int) {
	c.metrics.Recorder("dead_letter")
	d := &model.DeadLetter{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		MsgKey:    string(m.Key),
		Payload:   string(m.Value),
		Reason:    truncate(reason, 512),
		Attempts:  attempts,
	}
	fields := logrus.Fields{"topic": m.Topic, "partition": m.Partition, "offset": m.Offset, "reason": d.Reason}
	if err := c.dlq.Save(ctx, d); err != nil {
		c.log.WithError(err).WithFields(fields).Error("recorder save dead letter failed, message dropped")
		return
	}
	c.log.WithFields(fields).Warn("recorder message dead-lettered")
}

func toSuccessModel(msg SuccessMessage) *model.Success {
	return &model.Success{
		RecordID:     msg.RecordID,
		CreatedAt:    msg.CreatedAt,
		UserID:       msg.UserID,
		SpuID:        msg.SpuID,
		SkuID:        msg.SkuID,
		Quantity:     msg.Quantity,
		SeckillPrice: msg.SeckillPrice,
		OrderSn:      msg.OrderSn,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
