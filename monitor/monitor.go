// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SessionsCreated      prometheus.Counter
	SessionJoins         *prometheus.CounterVec
	Goals                *prometheus.CounterVec
	GamesCompleted       *prometheus.CounterVec
	TournamentsCompleted prometheus.Counter
	LiveSubscriptions    prometheus.Gauge
	RequestLatency       *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Number of sessions created",
		}),
		SessionJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_joins_total",
			Help:      "Session join attempts by outcome",
		}, []string{"outcome"}),
		Goals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goals_total",
			Help:      "Goals recorded by type",
		}, []string{"type"}),
		GamesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games that left in_progress, by final status",
		}, []string{"status"}),
		TournamentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tournaments_completed_total",
			Help:      "Tournaments that crowned a champion",
		}),
		LiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscriptions",
			Help:      "Number of open websocket viewers",
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"operation"}),
	}
}

// Monitor 持有独立的 Registry，测试中可以重复创建
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}
	m.registry.MustRegister(
		m.metrics.SessionsCreated,
		m.metrics.SessionJoins,
		m.metrics.Goals,
		m.metrics.GamesCompleted,
		m.metrics.TournamentsCompleted,
		m.metrics.LiveSubscriptions,
		m.metrics.RequestLatency,
		collectors.NewGoCollector(),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) IncSessionsCreated() {
	m.metrics.SessionsCreated.Inc()
}

func (m *Monitor) IncSessionJoin(outcome string) {
	m.metrics.SessionJoins.WithLabelValues(outcome).Inc()
}

func (m *Monitor) IncGoal(goalType string) {
	m.metrics.Goals.WithLabelValues(goalType).Inc()
}

func (m *Monitor) IncGameFinished(status string) {
	m.metrics.GamesCompleted.WithLabelValues(status).Inc()
}

func (m *Monitor) IncTournamentsCompleted() {
	m.metrics.TournamentsCompleted.Inc()
}

func (m *Monitor) IncLiveSubscriptions() {
	m.metrics.LiveSubscriptions.Inc()
}

func (m *Monitor) DecLiveSubscriptions() {
	m.metrics.LiveSubscriptions.Dec()
}

func (m *Monitor) ObserveRequest(operation string, duration time.Duration) {
	m.metrics.RequestLatency.WithLabelValues(operation).Observe(duration.Seconds())
}
