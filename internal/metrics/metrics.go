// Package metrics 秒杀服务的 Prometheus 指标。所有方法对 nil 接收者安全，测试中可直接传 nil。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	reg      *prometheus.Registry
	commits  *prometheus.CounterVec
	preheat  *prometheus.CounterVec
	recorder *prometheus.CounterVec
	outbox   prometheus.Counter
	jobs     *prometheus.CounterVec
	breaker  *prometheus.GaugeVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_commit_total",
			Help: "秒杀提交结果计数",
		}, []string{"result"}),
		preheat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_preheat_writes_total",
			Help: "预热写入计数",
		}, []string{"kind", "outcome"}),
		recorder: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_recorder_messages_total",
			Help: "成功记录消费结果计数",
		}, []string{"outcome"}),
		outbox: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seckill_outbox_failures_total",
			Help: "成功消息写入 outbox 失败次数",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_job_runs_total",
			Help: "定时任务执行计数",
		}, []string{"task", "outcome"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seckill_breaker_state",
			Help: "熔断器状态：0 closed, 1 half-open, 2 open",
		}, []string{"name"}),
	}
	reg.MustRegister(m.commits, m.preheat, m.recorder, m.outbox, m.jobs, m.breaker)
	return m
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Commit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) Preheat(kind, outcome string) {
	if m == nil {
		return
	}
	m.preheat.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Recorder(outcome string) {
	if m == nil {
		return
	}
	m.recorder.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OutboxFailure() {
	if m == nil {
		return
	}
	m.outbox.Inc()
}

func (m *Metrics) JobRun(task, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(task, outcome).Inc()
}

// BreakerState 可直接作为 gobreaker 的 OnStateChange 回调。
func (m *Metrics) BreakerState(name string, _, to gobreaker.State) {
	if m == nil {
		return
	}
	m.breaker.WithLabelValues(name).Set(float64(to))
}
