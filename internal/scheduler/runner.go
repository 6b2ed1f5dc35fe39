// Package scheduler 固定间隔的后台任务。每个任务一个 goroutine，同一任务不会并发执行。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"seckill/internal/metrics"
)

var (
	ErrTaskRunning = errors.New("task is already running")
	ErrUnknownTask = errors.New("unknown task")
)

type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	running  atomic.Bool
}

type Runner struct {
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	tasks map[string]*task
	order []string
}

func NewRunner(log *logrus.Logger, m *metrics.Metrics) *Runner {
	return &Runner{log: log, metrics: m, tasks: map[string]*task{}}
}

// Register 需在 Start 之前调用。
func (r *Runner) Register(name string, interval time.Duration, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tasks[name] = &task{name: name, interval: interval, fn: fn}
}

// Start 为每个任务启动一个 goroutine：立即执行一次，之后按间隔触发。ctx 取消后退出。
func (r *Runner) Start(ctx context.Context, wg *sync.WaitGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.order {
		t := r.tasks[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, t, wg)
		}()
	}
}

func (r *Runner) loop(ctx context.Context, t *task, wg *sync.WaitGroup) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	r.runAsync(ctx, t, wg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAsync(ctx, t, wg)
		}
	}
}

// runAsync 上一次还没结束则跳过本次触发。
func (r *Runner) runAsync(ctx context.Context, t *task, wg *sync.WaitGroup) {
	if !t.running.CompareAndSwap(false, true) {
		r.metrics.JobRun(t.name, "skipped")
		r.log.WithField("task", t.name).Warn("previous run still in progress, tick skipped")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer t.running.Store(false)
		_ = r.exec(ctx, t)
	}()
}

// RunNow 同步执行一次任务，供运维与测试使用。
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	t, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !t.running.CompareAndSwap(false, true) {
		return ErrTaskRunning
	}
	defer t.running.Store(false)
	return r.exec(ctx, t)
}

func (r *Runner) exec(ctx context.Context, t *task) (err error) {
	start := time.Now()
	entry := r.log.WithField("task", t.name)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panic: %v", p)
		}
		if err != nil {
			r.metrics.JobRun(t.name, "failed")
			entry.WithError(err).WithField("cost", time.Since(start).String()).Error("task failed")
			return
		}
		r.metrics.JobRun(t.name, "ok")
		entry.WithField("cost", time.Since(start).String()).Debug("task finished")
	}()
	return t.fn(ctx)
}
