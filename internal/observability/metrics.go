package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	ClassifiedTotal    *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CacheEvictions     prometheus.Counter
	CollaboratorErrors *prometheus.CounterVec
	ActiveEntities     prometheus.Gauge
	TurnLatency        *prometheus.HistogramVec
	WSMessages         *prometheus.CounterVec
	WSWriteErrors      prometheus.Counter

	// Steps keeps a rolling window of per-step turn latencies for the debug
	// endpoint.
	Steps *StepWindow

	registry *prometheus.Registry
}

// NewMetrics registers the instruments on a fresh registry so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled turns by branch.",
		}, []string{"branch"}),
		ClassifiedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classified_total",
			Help:      "Classifier results by label.",
		}, []string{"label"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Response cache entries evicted for capacity.",
		}),
		CollaboratorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Failed collaborator calls by collaborator.",
		}, []string{"collaborator"}),
		ActiveEntities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_entities",
			Help:      "Entities currently held in the session store.",
		}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds by branch.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2000, 4000},
		}, []string{"branch"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket messages by direction, type and outcome.",
		}, []string{"direction", "type", "outcome"}),
		WSWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "Websocket write failures.",
		}),
		Steps:    NewStepWindow(256),
		registry: reg,
	}
}

func (m *Metrics) ObserveTurn(branch string, d time.Duration) {
	m.TurnsTotal.WithLabelValues(branch).Inc()
	m.TurnLatency.WithLabelValues(branch).Observe(float64(d.Milliseconds()))
	m.Steps.Observe("turn_total", float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
	m.Steps.ObserveIndicator("cache_" + result)
}

func (m *Metrics) ObserveCollaboratorError(collaborator string) {
	m.CollaboratorErrors.WithLabelValues(collaborator).Inc()
	m.Steps.ObserveIndicator(collaborator + "_error")
}

func (m *Metrics) ObserveWSMessage(direction, msgType, outcome string) {
	m.WSMessages.WithLabelValues(direction, msgType, outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
