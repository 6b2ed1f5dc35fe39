// Package guard 接口级保护：QPS 限流 + 熔断降级。
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"seckill/internal/result"
)

type Options[T any] struct {
	Name string
	// QPS 每秒允许的调用数，突发上限与之相同；<=0 表示不限流。
	QPS float64
	// Busy 限流时的返回值，被保护的调用不会执行。
	Busy func() T
	// Fallback 下游故障或熔断打开时的返回值。
	Fallback func(err error) T
	// IsFailure 判断错误是否计入熔断；默认非业务错误才计入。
	IsFailure func(err error) bool

	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

// Guard 装饰一次调用。业务错误原样返回；限流与故障转换为 Busy / Fallback 的结果，此时 err 为 nil。
type Guard[T any] struct {
	opts    Options[T]
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

func New[T any](opts Options[T]) *Guard[T] {
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return !result.IsBusiness(err) }
	}
	if opts.MinRequests == 0 {
		opts.MinRequests = 20
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}

	g := &Guard[T]{opts: opts}
	if opts.QPS > 0 {
		burst := int(opts.QPS)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}
	isFailure := opts.IsFailure
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= opts.MinRequests && float64(c.TotalFailures)/float64(c.Requests) >= opts.FailureRatio
		},
		OnStateChange: opts.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
	})
	return g
}

// Do 执行 fn。返回 (v, nil) 可能是正常结果，也可能是 Busy/Fallback 构造的结果。
func (g *Guard[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return g.busy(), nil
	}

	out, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil {
		v, _ := out.(T)
		return v, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || g.opts.IsFailure(err) {
		return g.fallback(err), nil
	}
	var zero T
	return zero, err
}

func (g *Guard[T]) busy() T {
	if g.opts.Busy == nil {
		var zero T
		return zero
	}
	return g.opts.Busy()
}

func (g *Guard[T]) fallback(err error) T {
	if g.opts.Fallback == nil {
		var zero T
		return zero
	}
	return g.opts.Fallback(err)
}
