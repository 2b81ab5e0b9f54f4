package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "txstream"

// Prune reasons used as the "reason" label of SubscriptionsRemoved.
const (
	ReasonDisconnect  = "disconnect"
	ReasonWriteFailed = "write_failed"
	ReasonStale       = "stale"
	ReasonShutdown    = "shutdown"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HubMetrics holds the broadcast subsystem metrics. A nil *HubMetrics is valid
// and records nothing.
type HubMetrics struct {
	ActiveSubscriptions  prometheus.Gauge
	ActiveTopics         prometheus.Gauge
	EventsPublished      *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	Deliveries           *prometheus.CounterVec
	SubscriptionsRemoved *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_subscriptions",
			Help:      "Number of live stream subscriptions.",
		}),
		ActiveTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_topics",
			Help:      "Number of transaction references with at least one subscriber.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Events handed to the broadcast engine, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events published to a transaction reference with no subscribers.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Channel write attempts, by result.",
		}, []string{"result"}),
		SubscriptionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscriptions_removed_total",
			Help:      "Subscriptions removed from the registry, by reason.",
		}, []string{"reason"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of heartbeat sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ActiveSubscriptions,
		m.ActiveTopics,
		m.EventsPublished,
		m.EventsDropped,
		m.Deliveries,
		m.SubscriptionsRemoved,
		m.SweepDuration,
	)
	return m
}

func (m *HubMetrics) SetActive(subscriptions, topics int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(subscriptions))
	m.ActiveTopics.Set(float64(topics))
}

func (m *HubMetrics) Published(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

func (m *HubMetrics) Dropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *HubMetrics) Delivered(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *HubMetrics) Removed(reason string) {
	if m == nil {
		return
	}
	m.SubscriptionsRemoved.WithLabelValues(reason).Inc()
}

func (m *HubMetrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
