package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder 记录调用顺序，供两个 fake 共用。
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

type fakeInventory struct {
	rec         *recorder
	rows        int
	err         error
	increaseErr error
}

func (f *fakeInventory) Decrease(ctx context.Context, skuID int64, quantity int) (int, error) {
	f.rec.add("decrease")
	return f.rows, f.err
}

func (f *fakeInventory) Increase(ctx context.Context, skuID int64, quantity int) error {
	f.rec.add("increase")
	return f.increaseErr
}

type fakeOrders struct {
	rec       *recorder
	delay     time.Duration
	err       error
	cancelErr error
}

func (f *fakeOrders) AddOrder(ctx context.Context, add OrderAdd) (OrderAddResult, error) {
	f.rec.add("add")
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return OrderAddResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return OrderAddResult{}, f.err
	}
	return OrderAddResult{ID: 1, Sn: "SN1", CreateTime: time.Now(), PayAmount: add.PayAmount}, nil
}

func (f *fakeOrders) CancelByRequest(ctx context.Context, requestID string) error {
	f.rec.add("cancel:" + requestID)
	return f.cancelErr
}

func sampleAdd() OrderAdd {
	return OrderAdd{
		RequestID:   "req-1",
		UserID:      7,
		TotalAmount: 100,
		PayAmount:   100,
		Items:       []OrderItemAdd{{SpuID: 1, SkuID: 11, Price: 100, Quantity: 1}},
	}
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestSaga_Commit(t *testing.T) {
	rec := &recorder{}
	s := NewSaga(&fakeInventory{rec: rec, rows: 1}, &fakeOrders{rec: rec}, time.Second, quietLogger())

	res, tx, err := s.Commit(context.Background(), sampleAdd())
	require.NoError(t, err)
	assert.Equal(t, "SN1", res.Sn)
	assert.EqualValues(t, 100, res.PayAmount)
	assert.Equal(t, StateCommitted, tx.State)
	assert.Equal(t, []string{"inventory.decrement", "order.commit"}, tx.Completed)
	assert.Equal(t, []string{"decrease", "add"}, rec.calls)
}

func TestSaga_InventoryShortage(t *testing.T) {
	rec := &recorder{}
	s := NewSaga(&fakeInventory{rec: rec, rows: 0}, &fakeOrders{rec: rec}, time.Second, quietLogger())

	_, tx, err := s.Commit(context.Background(), sampleAdd())
	assert.ErrorIs(t, err, ErrInventoryShortage)
	assert.Equal(t, StateCompensated, tx.State)
	assert.Empty(t, tx.Completed)
	assert.Equal(t, []string{"decrease"}, rec.calls)
}

func TestSaga_OrderFailureCompensatesInventory(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("order service down")
	s := NewSaga(&fakeInventory{rec: rec, rows: 1}, &fakeOrders{rec: rec, err: boom}, time.Second, quietLogger())

	_, tx, err := s.Commit(context.Background(), sampleAdd())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateCompensated, tx.State)
	assert.Equal(t, []string{"decrease", "add", "increase"}, rec.calls)
}

func TestSaga_Timeout(t *testing.T) {
	rec := &recorder{}
	s := NewSaga(&fakeInventory{rec: rec, rows: 1}, &fakeOrders{rec: rec, delay: time.Second}, 30*time.Millisecond, quietLogger())

	_, tx, err := s.Commit(context.Background(), sampleAdd())
	assert.ErrorIs(t, err, ErrCommitTimeout)
	// 订单可能已在对端创建：先按 requestId 撤单，再回补库存
	assert.Equal(t, StateCompensated, tx.State)
	assert.Equal(t, []string{"decrease", "add", "cancel:req-1", "increase"}, rec.calls)
	assert.Equal(t, []string{"inventory.decrement"}, tx.Completed)
}

func TestSaga_TimeoutCancelFailureStillRestoresInventory(t *testing.T) {
	rec := &recorder{}
	orders := &fakeOrders{rec: rec, delay: time.Second, cancelErr: errors.New("order service down")}
	s := NewSaga(&fakeInventory{rec: rec, rows: 1}, orders, 30*time.Millisecond, quietLogger())

	_, tx, err := s.Commit(context.Background(), sampleAdd())
	assert.ErrorIs(t, err, ErrCommitTimeout)
	assert.Equal(t, StateCompensationFailed, tx.State)
	assert.Equal(t, []string{"decrease", "add", "cancel:req-1", "increase"}, rec.calls)
}

func TestSaga_CompensationFailure(t *testing.T) {
	rec := &recorder{}
	log, hook := test.NewNullLogger()
	inv := &fakeInventory{rec: rec, rows: 1, increaseErr: errors.New("inventory down")}
	s := NewSaga(inv, &fakeOrders{rec: rec, err: errors.New("x")}, time.Second, log)

	_, tx, err := s.Commit(context.Background(), sampleAdd())
	assert.Error(t, err)
	assert.Equal(t, StateCompensationFailed, tx.State)

	var sawError bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestSaga_RejectsMultiItem(t *testing.T) {
	rec := &recorder{}
	s := NewSaga(&fakeInventory{rec: rec, rows: 1}, &fakeOrders{rec: rec}, time.Second, quietLogger())
	add := sampleAdd()
	add.Items = append(add.Items, add.Items[0])

	_, tx, err := s.Commit(context.Background(), add)
	assert.Error(t, err)
	assert.Equal(t, StatePending, tx.State)
	assert.Empty(t, rec.calls)
}
