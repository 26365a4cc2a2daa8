package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "web2pdf"

// Metrics holds the collectors for conversions, pipeline stages and HTTP traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConversionsTotal    *prometheus.CounterVec
	ConversionDuration  prometheus.Histogram
	StageDuration       *prometheus.HistogramVec
	SubpagesTotal       *prometheus.CounterVec
	OutputBytes         prometheus.Histogram
	ArtifactsSwept      prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every collector with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg, reg)
}

// NewMetricsWith registers every collector with reg and exposes gatherer on Handler.
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Conversions by outcome (success, invalid, failed).",
		}, []string{"outcome"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of a whole conversion run.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage", "status"}),
		SubpagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subpages_total",
			Help:      "Subpage renders by result (rendered, failed, blocked).",
		}, []string{"result"}),
		OutputBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "output_bytes",
			Help:      "Size of published documents.",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),
		ArtifactsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_swept_total",
			Help:      "Expired documents removed by the retention sweep.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveConversion records one finished run.
func (m *Metrics) ObserveConversion(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(outcome).Inc()
	m.ConversionDuration.Observe(seconds)
}

// ObserveStage records one pipeline stage.
func (m *Metrics) ObserveStage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(seconds)
}

// AddSubpages counts subpage renders with the given result.
func (m *Metrics) AddSubpages(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SubpagesTotal.WithLabelValues(result).Add(float64(n))
}

// ObserveOutput records the size of a published document.
func (m *Metrics) ObserveOutput(bytes int64) {
	if m == nil {
		return
	}
	m.OutputBytes.Observe(float64(bytes))
}

// AddSwept counts documents removed by retention.
func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArtifactsSwept.Add(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
