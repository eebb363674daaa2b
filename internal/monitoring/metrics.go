package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the vertex finder's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	tracksTotal   *prometheus.CounterVec
	vertices      prometheus.Histogram
	noiseFraction prometheus.Histogram
	eventDuration prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zvertex_events_total",
			Help: "Events processed by result",
		}, []string{"result"}),
		tracksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zvertex_tracks_total",
			Help: "Tracks seen by selection outcome",
		}, []string{"outcome"}),
		vertices: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zvertex_vertices_per_event",
			Help:    "Fitted vertices per event",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
		}),
		noiseFraction: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zvertex_noise_fraction",
			Help:    "Fraction of selected tracks left unassigned",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		eventDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zvertex_event_duration_seconds",
			Help:    "Wall time to process one event",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us to ~330ms
		}),
	}
}

// ObserveEvent records a successfully processed event.
func (m *Metrics) ObserveEvent(input, selected, noise, vertices int, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues("ok").Inc()
	m.tracksTotal.WithLabelValues("rejected").Add(float64(input - selected))
	m.tracksTotal.WithLabelValues("noise").Add(float64(noise))
	m.tracksTotal.WithLabelValues("assigned").Add(float64(selected - noise))
	m.vertices.Observe(float64(vertices))
	if selected > 0 {
		m.noiseFraction.Observe(float64(noise) / float64(selected))
	}
	m.eventDuration.Observe(d.Seconds())
}

// ObserveFailure records an event that was rejected or aborted.
func (m *Metrics) ObserveFailure(result string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
