package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	got   []SuccessMessage
	fails int
}

func (f *fakePublisher) Publish(ctx context.Context, msg SuccessMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("kafka unavailable")
	}
	f.got = append(f.got, msg)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestOutboxRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	outbox := NewOutbox(rdb, "seckill:success:outbox")
	require.NoError(t, outbox.Publish(ctx, sampleMsg("r1")))
	require.NoError(t, outbox.Publish(ctx, sampleMsg("r2")))
	// 字段缺失的脏消息会被 ACK 丢弃
	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: "seckill:success:outbox", Values: map[string]interface{}{"record_id": "bad"}}).Err())

	log, _ := test.NewNullLogger()
	pub := &fakePublisher{fails: 1}
	relay := NewRelay(rdb, pub, "seckill:success:outbox", "relay", "c1", log)
	relay.block = 20 * time.Millisecond

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		relay.Run(runCtx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return pub.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, "seckill:success:outbox").Result()
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "r1", pub.got[0].RecordID)
	assert.Equal(t, "r2", pub.got[1].RecordID)
	assert.EqualValues(t, 100, pub.got[0].SeckillPrice)
}

func TestParseSuccessEvent_Invalid(t *testing.T) {
	values := sampleMsg("r1").streamValues()
	values["user_id"] = "abc"
	_, err := parseSuccessEvent(values)
	assert.Error(t, err)

	values = sampleMsg("r1").streamValues()
	values["quantity"] = 0
	_, err = parseSuccessEvent(values)
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_KeyedByRecordID(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w}
	require.NoError(t, p.Publish(context.Background(), sampleMsg("r9")))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "r9", string(w.msgs[0].Key))
	var got SuccessMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "r9", got.RecordID)
}
