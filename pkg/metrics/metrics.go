// Package metrics exposes conversion and HTTP metrics for Prometheus.
//
// Collectors live on a private registry so several Metrics values can exist
// in one process (tests, embedded use) without duplicate registration panics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Metrics holds all Prometheus collectors for stdfconv. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	runtime  *prometheus.Registry // Go and process collectors, served over HTTP only

	// Conversion metrics
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	recordsTotal *prometheus.CounterVec
	bytesWritten prometheus.Counter
	lossyFields  prometheus.Counter

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
}

// New creates a private registry and registers all collectors on it
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdfconv_jobs_total",
				Help: "Total number of conversion jobs by outcome",
			},
			[]string{"status"},
		),

		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stdfconv_job_duration_seconds",
				Help:    "Conversion job duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"status"},
		),

		jobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stdfconv_jobs_in_flight",
				Help: "Number of conversion jobs currently running",
			},
		),

		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdfconv_records_written_total",
				Help: "Total number of STDF records written by record type",
			},
			[]string{"record"},
		),

		bytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stdfconv_bytes_written_total",
				Help: "Total number of uncompressed STDF bytes written",
			},
		),

		lossyFields: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stdfconv_lossy_fields_total",
				Help: "Total number of fields whose value was truncated or stripped",
			},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdfconv_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stdfconv_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stdfconv_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),
	}

	m.runtime = prometheus.NewRegistry()
	m.runtime.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding the stdfconv collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobStarted marks a job as running; call the returned func when it ends
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.jobsInFlight.Inc()
	return m.jobsInFlight.Dec
}

// ObserveJob records the outcome of one conversion job
func (m *Metrics) ObserveJob(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// AddRecords adds per record type counts, keyed by record name
func (m *Metrics) AddRecords(byRecord map[string]int) {
	if m == nil {
		return
	}
	for name, n := range byRecord {
		m.recordsTotal.WithLabelValues(name).Add(float64(n))
	}
}

// AddBytes adds written bytes
func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

// AddLossyFields adds fields that lost data during coercion
func (m *Metrics) AddLossyFields(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.lossyFields.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{m.registry, m.runtime}, promhttp.HandlerOpts{})
}

// WriteTextfile writes the stdfconv collectors, without the Go runtime
// metrics, to path for the node exporter textfile collector. The file is
// replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
