package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher 把成功事件投递到下游（Kafka）。
type Publisher interface {
	Publish(ctx context.Context, msg SuccessMessage) error
}

// Relay 将 outbox Stream 中的成功事件转发到 Kafka。
// 发布成功后才 ACK，失败则保留消息等待下一轮重试。
type Relay struct {
	rdb rd.UniversalClient
	pub Publisher
	log *logrus.Logger

	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewRelay(rdb rd.UniversalClient, pub Publisher, stream, group, consumer string, log *logrus.Logger) *Relay {
	return &Relay{
		rdb:      rdb,
		pub:      pub,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.WithError(err).Error("relay ensure group failed")
		return
	}
	r.log.WithFields(logrus.Fields{"stream": r.stream, "group": r.group}).Info("outbox relay started")

	for {
		if ctx.Err() != nil {
			return
		}

		// 先处理本消费者名下的 pending，避免遗留消息长期堆积。
		msgs, err := r.readGroup(ctx, "0", 0)
		if err == nil && len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", r.block)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.WithError(err).Warn("relay read stream failed")
			sleepCtx(ctx, 300*time.Millisecond)
			continue
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				r.log.WithError(err).WithField("stream_id", xm.ID).Warn("relay publish failed, will retry")
				sleepCtx(ctx, 200*time.Millisecond)
				break
			}
		}
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}
	if block == 0 {
		// go-redis 中 Block=0 表示无限阻塞，读 pending 时不阻塞。
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseSuccessEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.WithError(err).WithField("stream_id", xm.ID).Warn("relay drop invalid message")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pub.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
