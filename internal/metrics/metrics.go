// Package metrics exposes Prometheus collectors for the reconciler and the
// transaction lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	txTransitions   *prometheus.CounterVec
	readErrors      *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	toasts          *prometheus.CounterVec
	markets         prometheus.Gauge
	wsClients       prometheus.Gauge
}

// New creates the collectors on a dedicated registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		txTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbet_tx_transitions_total",
			Help: "write action state transitions",
		}, []string{"action", "state"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbet_read_errors_total",
			Help: "failed contract reads by collection",
		}, []string{"collection"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainbet_refresh_duration_seconds",
			Help:    "time to re-read a collection from the chain",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		toasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbet_toasts_total",
			Help: "user notifications by level",
		}, []string{"level"}),
		markets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainbet_markets",
			Help: "markets in the last good snapshot",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainbet_ws_clients",
			Help: "connected websocket clients",
		}),
	}
	reg.MustRegister(
		m.txTransitions, m.readErrors, m.refreshDuration, m.toasts, m.markets, m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TxTransition counts a tx record entering state.
func (m *Metrics) TxTransition(action, state string) {
	if m == nil {
		return
	}
	m.txTransitions.WithLabelValues(action, state).Inc()
}

// ReadError counts a failed refresh of collection.
func (m *Metrics) ReadError(collection string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(collection).Inc()
}

// ObserveRefresh records how long a refresh of collection took.
func (m *Metrics) ObserveRefresh(collection string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.WithLabelValues(collection).Observe(d.Seconds())
}

// Toast counts a notification.
func (m *Metrics) Toast(level string) {
	if m == nil {
		return
	}
	m.toasts.WithLabelValues(level).Inc()
}

// SetMarkets sets the snapshot size.
func (m *Metrics) SetMarkets(n int) {
	if m == nil {
		return
	}
	m.markets.Set(float64(n))
}

// WSClients adjusts the websocket client gauge by delta.
func (m *Metrics) WSClients(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}
