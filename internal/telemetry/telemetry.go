// Package telemetry exposes Prometheus metrics on a private registry.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hubctl/internal/model"
)

const namespace = "hubctl"

type Metrics struct {
	reg *prometheus.Registry

	activations        *prometheus.CounterVec
	activationDuration prometheus.Histogram
	snapshotDuration   prometheus.Histogram
	serviceStatus      *prometheus.GaugeVec
	lifetimeBytes      *prometheus.GaugeVec
	counterResets      *prometheus.CounterVec
	breakerState       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Profile activations by result.",
		}, []string{"result"}),
		activationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activation_duration_seconds",
			Help:      "Wall time of profile activations.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90},
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Wall time of status snapshot builds.",
			Buckets:   prometheus.DefBuckets,
		}),
		serviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_status",
			Help:      "1 for the current status of each service, 0 otherwise.",
		}, []string{"service", "status"}),
		lifetimeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifetime_bytes",
			Help:      "Lifetime transferred bytes per source and direction.",
		}, []string{"source", "direction"}),
		counterResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Detected raw counter resets per key.",
		}, []string{"key"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_breaker_state",
			Help:      "Container engine breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activations,
		m.activationDuration,
		m.snapshotDuration,
		m.serviceStatus,
		m.lifetimeBytes,
		m.counterResets,
		m.breakerState,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveActivation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
	m.activationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSnapshot(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotDuration.Observe(d.Seconds())
}

var allStatuses = []model.Status{model.StatusUp, model.StatusDown, model.StatusUnhealthy, model.StatusStarting}

func (m *Metrics) SetServiceStatus(service string, status model.Status) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.serviceStatus.WithLabelValues(service, string(s)).Set(v)
	}
}

func (m *Metrics) SetLifetime(source string, rx, tx uint64) {
	if m == nil {
		return
	}
	m.lifetimeBytes.WithLabelValues(source, "rx").Set(float64(rx))
	m.lifetimeBytes.WithLabelValues(source, "tx").Set(float64(tx))
}

func (m *Metrics) CounterReset(key string) {
	if m == nil {
		return
	}
	m.counterResets.WithLabelValues(key).Inc()
}

// SetBreakerState takes the numeric gobreaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}
