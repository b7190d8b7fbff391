// Package metrics exposes Prometheus collectors for the monitor cycle, venue
// fetches, mirror sinks, and the HTTP API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/monitor"
)

const namespace = "arbmonitor"

// Collector owns a private registry. It implements monitor.Recorder.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	spread        *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
	archiveRuns   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates and registers all collectors.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Monitor cycles by result.",
		},
		[]string{"result"},
	)
	c.stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "stage_failures_total",
			Help:      "Failed cycles by the stage that failed.",
		},
		[]string{"stage"},
	)
	c.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of venue event fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"venue"},
	)
	c.fetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "fetch_errors_total",
			Help:      "Failed venue fetches.",
		},
		[]string{"venue"},
	)
	c.spread = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arbitrage",
			Name:      "return_percent",
			Help:      "Most recent spread return in percent.",
		},
		[]string{"spread"},
	)
	c.lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last persisted observation.",
		},
	)
	c.archiveRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "CSV archive uploads by result.",
		},
		[]string{"result"},
	)
	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)
	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	c.registry.MustRegister(
		c.cycles,
		c.stageFailures,
		c.fetchDuration,
		c.fetchErrors,
		c.spread,
		c.lastSuccess,
		c.archiveRuns,
		c.httpRequests,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// FetchDone records one venue fetch.
func (c *Collector) FetchDone(venue domain.Venue, d time.Duration, err error) {
	c.fetchDuration.WithLabelValues(string(venue)).Observe(d.Seconds())
	if err != nil {
		c.fetchErrors.WithLabelValues(string(venue)).Inc()
	}
}

// CycleSucceeded records a persisted observation.
func (c *Collector) CycleSucceeded(obs domain.Observation) {
	c.cycles.WithLabelValues("success").Inc()
	c.spread.WithLabelValues("no").Set(obs.NoSpreadReturnPct)
	c.spread.WithLabelValues("yes_no").Set(obs.YesNoSpreadReturnPct)
	c.lastSuccess.Set(float64(obs.Timestamp.Unix()))
}

// CycleFailed records a skipped cycle.
func (c *Collector) CycleFailed(stage monitor.State) {
	c.cycles.WithLabelValues("failure").Inc()
	c.stageFailures.WithLabelValues(stage.String()).Inc()
}

// ArchiveDone records one archive upload attempt.
func (c *Collector) ArchiveDone(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.archiveRuns.WithLabelValues(result).Inc()
}

// InstrumentHandler wraps next with HTTP request metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		c.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath keeps label cardinality bounded.
func canonicalPath(raw string) string {
	switch {
	case raw == "/metrics", raw == "/ws", raw == "/api/observations/latest":
		return raw
	case strings.HasPrefix(raw, "/api/"):
		parts := strings.SplitN(strings.TrimPrefix(raw, "/api/"), "/", 2)
		return "/api/" + parts[0]
	default:
		return "other"
	}
}
