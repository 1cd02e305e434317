package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "viewer",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	// Viewer metrics
	SessionsMounted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "mounted",
		Help:      "Map containers currently mounted",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "commands_total",
		Help:      "Control commands received, by command",
	}, []string{"command"})

	FramesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "frames_rendered_total",
		Help:      "Map frames patched to connected pages",
	})

	FullscreenRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "fullscreen_rejections_total",
		Help:      "Fullscreen requests rejected by the browser",
	})

	// Tile proxy metrics
	TileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "tiles",
		Name:      "requests_total",
		Help:      "Tile requests served, by result",
	}, []string{"result"})

	TileFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "viewer",
		Subsystem: "tiles",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of tile fetches from the configured source",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	TileCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "viewer",
		Subsystem: "tiles",
		Name:      "cache_bytes",
		Help:      "Bytes held in the tile cache",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request metrics. route maps a request to a low
// cardinality label.
func Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		label := route(r)
		httpRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
