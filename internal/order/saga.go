package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInventoryShortage 商品服务侧库存不足（扣减影响 0 行）。
	ErrInventoryShortage = errors.New("inventory shortage")
	// ErrCommitTimeout 整个提交超过时限。
	ErrCommitTimeout = errors.New("order commit timeout")
)

// State 分布式事务状态。
type State string

const (
	StatePending            State = "pending"
	StateCommitted          State = "committed"
	StateCompensated        State = "compensated"
	StateCompensationFailed State = "compensation_failed"
)

// Transaction 一次提交的执行记录。
type Transaction struct {
	ID        string
	State     State
	Completed []string // 已完成的参与方，按执行顺序
	Err       error
}

type participant struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error

	// 超时失败时对端可能已生效，也需要补偿
	undoOnTimeout bool
}

// Saga 依次执行“扣减权威库存”“提交订单”，任一步失败按相反顺序补偿已完成的步骤。
type Saga struct {
	inventory Inventory
	orders    Orders
	timeout   time.Duration
	log       *logrus.Logger
	tracer    trace.Tracer
}

func NewSaga(inv Inventory, orders Orders, timeout time.Duration, log *logrus.Logger) *Saga {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Saga{
		inventory: inv,
		orders:    orders,
		timeout:   timeout,
		log:       log,
		tracer:    otel.Tracer("seckill/order"),
	}
}

// Commit 提交一张单行订单。返回的 Transaction 总是非 nil。
func (s *Saga) Commit(ctx context.Context, add OrderAdd) (OrderAddResult, *Transaction, error) {
	tx := &Transaction{ID: add.RequestID, State: StatePending}
	if len(add.Items) != 1 {
		tx.Err = fmt.Errorf("expected exactly one item, got %d", len(add.Items))
		return OrderAddResult{}, tx, tx.Err
	}
	item := add.Items[0]

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "saga.Commit", trace.WithAttributes(
		attribute.String("request_id", add.RequestID),
		attribute.Int64("sku_id", item.SkuID),
	))
	defer span.End()

	var res OrderAddResult
	steps := []participant{
		{
			name: "inventory.decrement",
			do: func(ctx context.Context) error {
				rows, err := s.inventory.Decrease(ctx, item.SkuID, item.Quantity)
				if err != nil {
					return err
				}
				if rows == 0 {
					return ErrInventoryShortage
				}
				return nil
			},
			undo: func(ctx context.Context) error {
				return s.inventory.Increase(ctx, item.SkuID, item.Quantity)
			},
		},
		{
			name: "order.commit",
			do: func(ctx context.Context) error {
				r, err := s.orders.AddOrder(ctx, add)
				if err != nil {
					return err
				}
				res = r
				return nil
			},
			undo: func(ctx context.Context) error {
				return s.orders.CancelByRequest(ctx, add.RequestID)
			},
			undoOnTimeout: true,
		},
	}

	var done []participant
	for _, p := range steps {
		stepCtx, stepSpan := s.tracer.Start(ctx, "saga."+p.name)
		err := p.do(stepCtx)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, p.name+" failed")
		}
		stepSpan.End()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %s: %v", ErrCommitTimeout, p.name, err)
				if p.undoOnTimeout {
					done = append(done, p)
				}
			} else {
				err = fmt.Errorf("%s: %w", p.name, err)
			}
			tx.Err = err
			span.RecordError(err)
			span.SetStatus(codes.Error, "saga failed")
			s.compensate(ctx, tx, done)
			return OrderAddResult{}, tx, err
		}
		done = append(done, p)
		tx.Completed = append(tx.Completed, p.name)
	}

	tx.State = StateCommitted
	return res, tx, nil
}

// compensate 倒序执行补偿。提交上下文可能已超时，补偿使用独立的时限。
func (s *Saga) compensate(ctx context.Context, tx *Transaction, done []participant) {
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	tx.State = StateCompensated
	for i := len(done) - 1; i >= 0; i-- {
		p := done[i]
		cctx, span := s.tracer.Start(compCtx, "saga.compensate."+p.name)
		if err := p.undo(cctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compensation failed")
			tx.State = StateCompensationFailed
			s.log.WithFields(logrus.Fields{
				"request_id":  tx.ID,
				"participant": p.name,
			}).WithError(err).Error("saga compensation failed, manual reconciliation required")
		}
		span.End()
	}
	if len(done) > 0 {
		s.log.WithFields(logrus.Fields{
			"request_id":  tx.ID,
			"compensated": len(done),
			"state":       tx.State,
		}).Warn("saga rolled back")
	}
}
