package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics exposes both HTTP transport metrics and orchestration
// outcome metrics on a single registry.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	routingTotal     *prometheus.CounterVec
	agentRunsTotal   *prometheus.CounterVec
	agentDuration    *prometheus.HistogramVec
	queryTotal       *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	cacheHitRate     prometheus.Gauge
	cacheEntriesGage prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lra",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lra",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lra",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	routingTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lra",
			Subsystem: "orchestration",
			Name:      "routing_total",
			Help:      "Total routed queries by primary domain.",
		},
		[]string{"service", "primary_domain"},
	)
	agentRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lra",
			Subsystem: "orchestration",
			Name:      "agent_runs_total",
			Help:      "Total completed agent invocations by status.",
		},
		[]string{"service", "agent", "status"},
	)
	agentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lra",
			Subsystem: "orchestration",
			Name:      "agent_duration_seconds",
			Help:      "Agent invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "agent"},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lra",
			Subsystem: "orchestration",
			Name:      "queries_total",
			Help:      "Total orchestrated queries by final status.",
		},
		[]string{"service", "status"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lra",
			Subsystem: "orchestration",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service"},
	)
	cacheHitRate := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lra",
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Artifact cache hit rate since process start.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lra",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of entries in the artifact cache.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		routingTotal,
		agentRunsTotal,
		agentDuration,
		queryTotal,
		queryDuration,
		cacheHitRate,
		cacheEntries,
	)

	return &HTTPServerMetrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		routingTotal:     routingTotal,
		agentRunsTotal:   agentRunsTotal,
		agentDuration:    agentDuration,
		queryTotal:       queryTotal,
		queryDuration:    queryDuration,
		cacheHitRate:     cacheHitRate,
		cacheEntriesGage: cacheEntries,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/conversations/"):
		return "/v1/conversations/{conversation_id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
