package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Domain metrics for the tenure lifecycle.
var (
	PromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenure_promotions_total",
		Help: "Future tenures promoted to live tenures.",
	})

	ContributionsCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contributions_collected_total",
		Help: "Contribution receipts recorded by the collection engine.",
	})

	ChargeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contribution_charge_failures_total",
		Help: "Gateway charges that failed, timed out or were declined.",
	})

	CollectionBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collection_batch_duration_seconds",
		Help:    "Wall time of one collection run.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		PromotionsTotal, ContributionsCollectedTotal, ChargeFailuresTotal,
		CollectionBatchDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an http.Handler with RPS/latency/in-flight measurement.
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

// CanonicalPath collapses resource ids out of URL paths so metric
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/groups/:id{/...}, /v1/watches/:id
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "groups", "watches":
			if parts[3] != "" {
				parts[3] = ":id"
			}
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
