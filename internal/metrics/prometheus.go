package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Local collection metrics
	LocalWrites       *prometheus.CounterVec
	ExternalUpdates   *prometheus.CounterVec
	CacheDecodeErrors prometheus.Counter
	CachePersistFails prometheus.Counter

	// Bus metrics
	BusPublishes   prometheus.Counter
	ListenerPanics prometheus.Counter

	// Remote adapter metrics
	Pulls                 *prometheus.CounterVec
	Upserts               *prometheus.CounterVec
	UpsertDuration        prometheus.Histogram
	PendingUpserts        prometheus.Gauge
	RealtimeEvents        *prometheus.CounterVec
	RealtimeSubscriptions prometheus.Gauge

	// Binding metrics
	ActiveBindings prometheus.Gauge

	// Gateway metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamClients   prometheus.Gauge
}

// NewMetrics creates Prometheus metrics and registers them on reg.
// Each engine or test can pass its own registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LocalWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_local_writes_total",
				Help: "Total number of local collection writes",
			},
			[]string{"key"},
		),

		ExternalUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_external_updates_total",
				Help: "Total number of remote-origin updates applied to the cache",
			},
			[]string{"source"},
		),

		CacheDecodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docsync_cache_decode_errors_total",
				Help: "Total number of malformed cache entries degraded to default",
			},
		),

		CachePersistFails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docsync_cache_persist_failures_total",
				Help: "Total number of cache writes that could not be persisted",
			},
		),

		BusPublishes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docsync_bus_publishes_total",
				Help: "Total number of change bus publishes",
			},
		),

		ListenerPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docsync_bus_listener_panics_total",
				Help: "Total number of recovered listener panics",
			},
		),

		Pulls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_remote_pulls_total",
				Help: "Total number of remote pulls by result",
			},
			[]string{"result"},
		),

		Upserts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_remote_upserts_total",
				Help: "Total number of remote upserts by result",
			},
			[]string{"result"},
		),

		UpsertDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docsync_remote_upsert_duration_seconds",
				Help:    "Duration of remote upserts",
				Buckets: prometheus.DefBuckets,
			},
		),

		PendingUpserts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_remote_pending_upserts",
				Help: "Number of upserts submitted but not yet completed",
			},
		),

		RealtimeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_realtime_events_total",
				Help: "Total number of realtime events by outcome",
			},
			[]string{"outcome"},
		),

		RealtimeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_realtime_subscriptions",
				Help: "Number of open realtime subscriptions, one per (tenant, key)",
			},
		),

		ActiveBindings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_active_bindings",
				Help: "Number of mounted bindings",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsync_gateway_requests_total",
				Help: "Total number of gateway requests",
			},
			[]string{"operation", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsync_gateway_request_duration_seconds",
				Help:    "Duration of gateway request processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsync_gateway_stream_clients",
				Help: "Number of connected websocket stream clients",
			},
		),
	}
}
