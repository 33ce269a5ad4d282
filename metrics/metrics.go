package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the pipeline. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	encodesTotal    *prometheus.CounterVec
	encodeDuration  *prometheus.HistogramVec
	linesIngested   prometheus.Counter
	linesSkipped    prometheus.Counter
	bytesAccounted  prometheus.Counter
	requestsTotal   prometheus.Counter
	requestErrors   prometheus.Counter
	uploadsRejected *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_jobs_total",
			Help: "Processing jobs finished, by terminal status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "media_job_duration_seconds",
			Help:    "Wall time of one processing job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		encodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_variant_encodes_total",
			Help: "Variant encodes, by quality and outcome",
		}, []string{"quality", "outcome"}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_variant_encode_duration_seconds",
			Help:    "Wall time of one variant encode",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"quality"}),
		linesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandwidth_log_lines_ingested_total",
			Help: "Segment delivery lines recorded from the access log",
		}),
		linesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandwidth_log_lines_skipped_total",
			Help: "Malformed or non-segment access log lines",
		}),
		bytesAccounted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandwidth_bytes_accounted_total",
			Help: "Bytes sent across all recorded segment deliveries",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_uploads_rejected_total",
			Help: "Uploads rejected at the boundary, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.encodesTotal,
		m.encodeDuration,
		m.linesIngested,
		m.linesSkipped,
		m.bytesAccounted,
		m.requestsTotal,
		m.requestErrors,
		m.uploadsRejected,
	)
	return m
}

func (m *Metrics) ObserveJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(d.Seconds())
}

// ObserveEncode matches the encoder gateway's observe hook.
func (m *Metrics) ObserveEncode(quality string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.encodesTotal.WithLabelValues(quality, outcome).Inc()
	m.encodeDuration.WithLabelValues(quality).Observe(d.Seconds())
}

func (m *Metrics) ObserveIngest(records, skipped int, bytes int64) {
	if m == nil {
		return
	}
	m.linesIngested.Add(float64(records))
	m.linesSkipped.Add(float64(skipped))
	m.bytesAccounted.Add(float64(bytes))
}

func (m *Metrics) IncUploadRejected(reason string) {
	if m == nil {
		return
	}
	m.uploadsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.requestErrors.Inc()
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
