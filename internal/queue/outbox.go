package queue

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把成功事件追加到 Redis Stream，等待 Relay 转发。
type Outbox struct {
	rdb    rd.UniversalClient
	stream string
	maxLen int64
}

func NewOutbox(rdb rd.UniversalClient, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 1_000_000}
}

func (o *Outbox) Publish(ctx context.Context, msg SuccessMessage) error {
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: msg.streamValues(),
	}).Err()
}
