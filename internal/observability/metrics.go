// Package observability exposes Prometheus metrics for the delivery core.
// The collector feeds off the event bus, so no component needs a direct
// metrics dependency.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blastd/internal/eventbus"
	rtsup "blastd/internal/runtime/supervisor"
	logx "blastd/pkg/logx"
)

type Metrics struct {
	reg *prometheus.Registry

	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsDropped   prometheus.Counter
	runsFinalized prometheus.Counter
	locksAcquired prometheus.Counter
	locksReleased prometheus.Counter

	log logx.Logger
	sup *rtsup.Supervisor
}

func New(log logx.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		reg: reg,
		log: log.With(logx.String("component", "metrics")),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blastd_jobs_started_total",
			Help: "Delivery jobs picked up by a worker.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blastd_jobs_completed_total",
			Help: "Delivery jobs that reached a terminal outcome.",
		}, []string{"result"}),
		jobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blastd_jobs_dropped_total",
			Help: "Jobs removed before execution (stop, cancel, undecodable).",
		}),
		runsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blastd_runs_finalized_total",
			Help: "Runs moved to a terminal status.",
		}),
		locksAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blastd_session_locks_acquired_total",
			Help: "Session leases granted.",
		}),
		locksReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blastd_session_locks_released_total",
			Help: "Session leases released.",
		}),
	}
	reg.MustRegister(m.jobsStarted, m.jobsCompleted, m.jobsDropped, m.runsFinalized, m.locksAcquired, m.locksReleased)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Start consumes bus events until ctx is cancelled.
func (m *Metrics) Start(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)

	m.sup = rtsup.New(ctx, rtsup.WithLogger(m.log))
	m.sup.Go0("metrics.consume", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.observe(ev)
			}
		}
	})
}

func (m *Metrics) Stop(ctx context.Context) {
	if m.sup == nil {
		return
	}
	m.sup.Cancel()
	_ = m.sup.Wait(ctx)
}

func (m *Metrics) observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeJobStarted:
		m.jobsStarted.Inc()
	case eventbus.TypeJobCompleted:
		m.jobsCompleted.WithLabelValues("success").Inc()
	case eventbus.TypeJobFailed:
		m.jobsCompleted.WithLabelValues("error").Inc()
	case eventbus.TypeJobDropped:
		m.jobsDropped.Inc()
	case eventbus.TypeRunFinalized:
		m.runsFinalized.Inc()
	case eventbus.TypeLockAcquired:
		m.locksAcquired.Inc()
	case eventbus.TypeLockReleased:
		m.locksReleased.Inc()
	}
}
