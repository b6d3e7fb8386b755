// Package metrics holds the Prometheus collectors of the quote service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quotehub"

type Metrics struct {
	// upstream calls by kind (quote, overview, history) and outcome reason
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	// current spacing between upstream calls
	PacerInterval prometheus.Gauge
	Backoffs      prometheus.Counter
	InFlight      prometheus.Gauge

	// cache lookups by result (fresh, stale, miss)
	CacheLookups *prometheus.CounterVec
	CacheEntries prometheus.Gauge

	LiveConnections prometheus.Gauge
	// live messages by type (update, ack, error) and result (sent, dropped)
	LiveMessages *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		PacerInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pacer_interval_seconds",
			Help:      "Current spacing between upstream calls",
		}),
		Backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "backoffs_total",
			Help:      "Times the pacer widened its interval after rate limiting",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "inflight_tasks",
			Help:      "Quote fetch tasks pending or in flight",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Symbols held in the quote cache",
		}),
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "connections",
			Help:      "Connected live update clients",
		}),
		LiveMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "messages_total",
			Help:      "Live messages by type and result",
		}, []string{"type", "result"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.PacerInterval,
		m.Backoffs,
		m.InFlight,
		m.CacheLookups,
		m.CacheEntries,
		m.LiveConnections,
		m.LiveMessages,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveUpstream(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(kind, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ObserveBackoff(interval time.Duration) {
	if m == nil {
		return
	}
	m.Backoffs.Inc()
	m.PacerInterval.Set(interval.Seconds())
}

func (m *Metrics) SetPacerInterval(interval time.Duration) {
	if m == nil {
		return
	}
	m.PacerInterval.Set(interval.Seconds())
}

func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) AddLiveConnections(delta float64) {
	if m == nil {
		return
	}
	m.LiveConnections.Add(delta)
}

func (m *Metrics) ObserveLiveMessage(typ string, sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "dropped"
	}
	m.LiveMessages.WithLabelValues(typ, result).Inc()
}
