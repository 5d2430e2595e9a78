package obs

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics, common to every endpoint exposed by the administrative
// surface.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "readiness_status",
		Help: "1 when the last readiness probe succeeded, 0 otherwise.",
	})
)

// Kernel metrics, one counter per family of event emitted by the
// consent/pull/channel/policy/intent/router/mesh components. Init
// registers them, but nothing in this module increments them, so they
// report zero.
var (
	PullsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_pulls_executed_total",
			Help: "Successful per-call and channel pulls, by executor kind.",
		},
		[]string{"kind"},
	)

	Revocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kernel_revocations_total",
			Help: "Revocations, by component.",
		},
		[]string{"component"},
	)

	PolicySpend = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_policy_spend_total",
		Help: "Cumulative amount consumed through PolicyEnforcer.CheckAndConsume (as float64 units).",
	})

	MeshSteps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_mesh_steps_total",
		Help: "SettlementMesh rebalance steps attempted, including zero-amount ones.",
	})

	RouterRoutes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_router_routes_total",
		Help: "AdaptiveRouter route attempts, including zero-amount ones.",
	})
)

// Init registers all metrics in the default registry. Safe to call once
// at process startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		PullsExecuted, Revocations, PolicySpend, MeshSteps, RouterRoutes,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the most recent readiness probe.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument wraps a handler with request-count/latency/in-flight metrics,
// labeling by a cardinality-bounded canonical path rather than the raw URL.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var hexIDSegment = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{8,}$`)

// CanonicalPath collapses path segments that look like opaque identifiers
// (hex-encoded hashes, ULIDs, account addresses) into a ":id" placeholder
// so that per-path metrics don't grow one label per distinct identifier.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isOpaqueID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isOpaqueID(seg string) bool {
	if hexIDSegment.MatchString(seg) {
		return true
	}
	if len(seg) >= 20 && isULIDLike(seg) {
		return true
	}
	return false
}

func isULIDLike(seg string) bool {
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

// statusWriter captures the response status code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
