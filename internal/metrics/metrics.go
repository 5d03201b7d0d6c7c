package metrics

import (
	"net/http"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports engine telemetry. It implements timeline.Observer.
type Recorder struct {
	gatherer prometheus.Gatherer

	envelopes   *prometheus.CounterVec
	projections *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	buffered    prometheus.Gauge
	flushSize   prometheus.Histogram
	rawDropped  prometheus.Counter
	httpLatency *prometheus.HistogramVec
}

var _ timeline.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors on reg. A nil reg gets a private
// registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaytimeline_envelopes_total",
			Help: "Envelopes received, grouped by router disposition",
		}, []string{"disposition"}),
		projections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaytimeline_projections_total",
			Help: "Timeline entity upserts produced by the projection pipeline",
		}, []string{"kind"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaytimeline_projection_degraded_total",
			Help: "Projections that fell back to the generic path",
		}, []string{"reason"}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaytimeline_buffered_envelopes",
			Help: "Envelopes waiting for conversation hydration",
		}),
		flushSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaytimeline_hydration_flush_size",
			Help:    "Envelopes flushed per hydration",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		rawDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaytimeline_raw_sink_dropped_total",
			Help: "Raw envelopes dropped because the observation bus was full",
		}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaytimeline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (r *Recorder) EnvelopeRouted(disposition string) {
	r.envelopes.WithLabelValues(disposition).Inc()
}

func (r *Recorder) BufferedDelta(delta int) {
	r.buffered.Add(float64(delta))
}

func (r *Recorder) HydrationFlushed(size int) {
	r.flushSize.Observe(float64(size))
}

func (r *Recorder) Projected(kind timeline.EntityKind) {
	if kind == "" {
		kind = "unknown"
	}
	r.projections.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) Degraded(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	r.degraded.WithLabelValues(reason).Inc()
}

// RawDropped counts envelopes the raw bus could not queue.
func (r *Recorder) RawDropped() {
	r.rawDropped.Inc()
}

func (r *Recorder) ObserveHTTP(method, route, status string, seconds float64) {
	r.httpLatency.WithLabelValues(method, route, status).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
