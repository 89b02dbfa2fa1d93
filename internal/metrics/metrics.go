package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"method", "endpoint"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classsync_llm_requests_total",
			Help: "Generation and grading calls by outcome",
		},
		[]string{"op", "outcome"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classsync_llm_request_duration_seconds",
			Help:    "Latency of calls to the generative text service",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"op"},
	)

	SourceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "classsync_task_source_failures_total",
			Help: "Per-group task fetches that failed during aggregation",
		},
	)

	QuizTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classsync_quiz_transitions_total",
			Help: "Quiz state machine transitions",
		},
		[]string{"from", "to"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration, LLMRequests, LLMDuration, SourceFailures, QuizTransitions)
	})
}

// ObserveLLMOutcome counts one generation or grading call.
func ObserveLLMOutcome(op, outcome string) {
	LLMRequests.WithLabelValues(op, outcome).Inc()
}

// ObserveLLMDuration records the latency of one call.
func ObserveLLMDuration(op string, d time.Duration) {
	LLMDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveTransition counts one state machine transition.
func ObserveTransition(from, to string) {
	QuizTransitions.WithLabelValues(from, to).Inc()
}

// Middleware records request counts and durations keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
