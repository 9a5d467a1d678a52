package proxy

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// proxyMetrics holds the prometheus collectors exposed on the admin
// surface (SPEC_FULL.md §10.5). Metrics are an ambient concern carried
// regardless of the distilled spec's Non-goals, which scope out
// routing/prioritisation/persistence features, not observability.
type proxyMetrics struct {
	tasksEnqueued      *prometheus.CounterVec
	workersConnected   *prometheus.CounterVec
	workersDisconnected *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
	idleCount  *prometheus.GaugeVec
	busyCount  *prometheus.GaugeVec
	reloading  prometheus.Gauge
}

func newProxyMetrics(reg prometheus.Registerer) *proxyMetrics {
	m := &proxyMetrics{
		tasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskproxy",
			Name:      "tasks_enqueued_total",
			Help:      "Tasks handed to AddTask, by group.",
		}, []string{"group"}),
		workersConnected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskproxy",
			Name:      "workers_connected_total",
			Help:      "Worker connections accepted, by group.",
		}, []string{"group"}),
		workersDisconnected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskproxy",
			Name:      "workers_disconnected_total",
			Help:      "Worker connections torn down, by group.",
		}, []string{"group"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskproxy",
			Name:      "queue_depth",
			Help:      "Pending tasks waiting for a worker, by group.",
		}, []string{"group"}),
		idleCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskproxy",
			Name:      "workers_idle",
			Help:      "Idle workers currently registered, by group.",
		}, []string{"group"}),
		busyCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskproxy",
			Name:      "workers_busy",
			Help:      "Busy workers currently registered, by group.",
		}, []string{"group"}),
		reloading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskproxy",
			Name:      "reloading",
			Help:      "1 while a reload is collecting/awaiting swap, 0 otherwise.",
		}),
	}
	reg.MustRegister(
		m.tasksEnqueued, m.workersConnected, m.workersDisconnected,
		m.queueDepth, m.idleCount, m.busyCount, m.reloading,
	)
	return m
}

func (m *proxyMetrics) observeTaskEnqueued(group int) {
	m.tasksEnqueued.WithLabelValues(strconv.Itoa(group)).Inc()
}

func (m *proxyMetrics) observeWorkerConnected(group int) {
	m.workersConnected.WithLabelValues(strconv.Itoa(group)).Inc()
}

func (m *proxyMetrics) observeWorkerDisconnected(group int) {
	m.workersDisconnected.WithLabelValues(strconv.Itoa(group)).Inc()
}

// refreshLoop periodically snapshots the dispatcher into the gauge
// collectors. The ticker-driven background-refresh idiom is adapted from
// the teacher's Pool.healthCheckLoop/scaleLoop (orchestrator/pool.go):
// there it polled worker health and pool size on a fixed interval, here it
// polls dispatcher bookkeeping for the same "periodic reconciliation of
// loosely-coupled state" reason.
func (p *Proxy) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshMetrics()
		}
	}
}

func (p *Proxy) refreshMetrics() {
	snap := p.dispatcher.Snapshot()
	for g, n := range snap.QueueDepth {
		p.metrics.queueDepth.WithLabelValues(strconv.Itoa(g)).Set(float64(n))
	}
	for g, n := range snap.IdleCount {
		p.metrics.idleCount.WithLabelValues(strconv.Itoa(g)).Set(float64(n))
	}
	for g, n := range snap.BusyCount {
		p.metrics.busyCount.WithLabelValues(strconv.Itoa(g)).Set(float64(n))
	}
	if snap.Reloading {
		p.metrics.reloading.Set(1)
	} else {
		p.metrics.reloading.Set(0)
	}
}
