package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Spreadsheet-provider metrics. The provider enforces hard call quotas, so
// call volume and retry counts are the first thing to look at during an
// outage.
var (
	sheetCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_calls_total",
			Help: "Remote spreadsheet calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	sheetRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sheet_retries_total",
		Help: "Remote calls retried after a quota or transient failure.",
	})

	snapshotReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_reads_total",
			Help: "Snapshot cache reads by source (fresh, live, stale, none).",
		},
		[]string{"source"},
	)

	loginLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "login_lockouts_total",
		Help: "Accounts locked out after repeated login failures.",
	})
)

// Init registers every metric with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		sheetCallsTotal, sheetRetriesTotal, snapshotReadsTotal, loginLockoutsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSheetCall records the outcome of one remote spreadsheet call.
func ObserveSheetCall(op, outcome string) {
	sheetCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveSheetRetry records one retry of a remote spreadsheet call.
func ObserveSheetRetry() {
	sheetRetriesTotal.Inc()
}

// ObserveSnapshotRead records which source served a snapshot-cached read.
func ObserveSnapshotRead(source string) {
	snapshotReadsTotal.WithLabelValues(source).Inc()
}

// ObserveLockout records an account lockout.
func ObserveLockout() {
	loginLockoutsTotal.Inc()
}

// CanonicalPath collapses per-user path segments so metric label
// cardinality stays bounded. Report partitions are keyed by user name and
// would otherwise mint one label value per salesperson.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "report" {
		parts[3] = ":user"
		if len(parts) > 5 {
			return p
		}
		return strings.Join(parts, "/")
	}
	return p
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
