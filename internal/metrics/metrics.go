package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratusdash_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratusdash_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	feedResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratusdash_calendar_resolve_total",
		Help: "Calendar feed resolutions by outcome.",
	}, []string{"status"})

	feedResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratusdash_calendar_resolve_duration_seconds",
		Help:    "Time spent fetching, parsing and expanding a calendar feed.",
		Buckets: prometheus.DefBuckets,
	})

	feedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stratusdash_calendar_events",
		Help: "Number of events in the most recently resolved window.",
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratusdash_calendar_cache_lookups_total",
		Help: "Calendar cache lookups by result (hit or miss).",
	}, []string{"result"})
)

// Middleware records request metrics labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The route pattern is only complete after routing has run.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolve records one feed resolution.
func ObserveResolve(status string, events int, start time.Time) {
	feedResolveTotal.WithLabelValues(status).Inc()
	feedResolveDuration.Observe(time.Since(start).Seconds())
	feedEvents.Set(float64(events))
}

func CacheHit() {
	cacheLookups.WithLabelValues("hit").Inc()
}

func CacheMiss() {
	cacheLookups.WithLabelValues("miss").Inc()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
