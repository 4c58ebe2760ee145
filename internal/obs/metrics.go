package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	bootstrapOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_bootstrap_outcomes_total",
			Help: "Navigation bootstrap runs by terminal state.",
		},
		[]string{"state"},
	)

	redirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_redirects_total",
			Help: "Login redirects emitted, by reason.",
		},
		[]string{"reason"},
	)

	snapshotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_snapshot_cache_total",
			Help: "Permission snapshot cache lookups by result.",
		},
		[]string{"result"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Latency of calls to the content API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	resolutionDepth = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_resolution_total",
			Help: "Resolved contexts by deepest resolved level.",
		},
		[]string{"level"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frontd_ready",
		Help: "1 when the last readiness check succeeded.",
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frontd_sessions",
		Help: "Live browser sessions after the last sweep.",
	})
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			bootstrapOutcomes, redirectsTotal, snapshotCache,
			backendDuration, resolutionDepth, ready, activeSessions,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps next with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses slug segments so page routes do not explode label cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segments := strings.Split(strings.Trim(p, "/"), "/")
	switch segments[0] {
	case "v1":
		if len(segments) == 3 && segments[1] == "permissions" {
			return "/v1/permissions/:capability"
		}
		return p
	case "metrics", "healthz", "readyz", "login":
		return p
	}
	switch len(segments) {
	case 1:
		return "/:organization"
	case 2:
		return "/:organization/:team"
	case 3:
		return "/:organization/:team/:report"
	}
	return "/:other"
}

// ObserveBootstrap counts a finished navigation by its terminal state.
func ObserveBootstrap(state string) {
	bootstrapOutcomes.WithLabelValues(state).Inc()
}

// ObserveRedirect counts an emitted login redirect.
func ObserveRedirect(reason string) {
	redirectsTotal.WithLabelValues(reason).Inc()
}

// ObserveSnapshotCache records a cache "hit", "miss" or "error".
func ObserveSnapshotCache(result string) {
	snapshotCache.WithLabelValues(result).Inc()
}

// ObserveBackend records the latency of one content API call.
func ObserveBackend(operation string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// ObserveResolution records how deep a context resolution got.
func ObserveResolution(level string) {
	resolutionDepth.WithLabelValues(level).Inc()
}

// SetActiveSessions publishes the live session count.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
