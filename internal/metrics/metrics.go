package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results used as the "result" label.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verdant_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	reminderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_reminder_runs_total",
			Help: "Reminder pipeline runs by result",
		},
		[]string{"result"},
	)

	reminderRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verdant_reminder_run_duration_seconds",
			Help:    "Wall time of one reminder pipeline run",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	reminderStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verdant_reminder_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 60, 300, 900},
		},
		[]string{"stage"},
	)

	plantsDue = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_plants_due_total",
			Help: "Due plants returned by the due query",
		},
	)

	notificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_notifications_sent_total",
			Help: "Push messages accepted by the provider",
		},
	)

	plantsRescheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_plants_rescheduled_total",
			Help: "Plants whose next due time was written",
		},
	)

	stageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_reminder_stage_failures_total",
			Help: "Non-fatal failures inside a pipeline stage",
		},
		[]string{"stage"},
	)

	deliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_push_delivery_errors_total",
			Help: "Ticket and receipt errors reported by the provider, by reason",
		},
		[]string{"phase", "reason"},
	)

	pushTokensRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "verdant_push_tokens_removed_total",
			Help: "Destinations removed after the provider reported them unregistered",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdant_rate_limit_rejections_total",
			Help: "Trigger requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records the outcome and duration of a pipeline run
func RecordRun(result string, duration time.Duration) {
	reminderRuns.WithLabelValues(result).Inc()
	reminderRunDuration.Observe(duration.Seconds())
}

// ObserveStage records how long a pipeline stage took
func ObserveStage(stage string, duration time.Duration) {
	reminderStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// AddPlantsDue adds to the due plant counter
func AddPlantsDue(n int) {
	plantsDue.Add(float64(n))
}

// AddNotificationsSent adds to the accepted message counter
func AddNotificationsSent(n int) {
	notificationsSent.Add(float64(n))
}

// AddPlantsRescheduled adds to the rescheduled plant counter
func AddPlantsRescheduled(n int) {
	plantsRescheduled.Add(float64(n))
}

// RecordStageFailure counts a degraded failure in a pipeline stage
// (grouping, dispatching, reconciling, rescheduling).
func RecordStageFailure(stage string) {
	stageFailures.WithLabelValues(stage).Inc()
}

// RecordDeliveryError counts a provider-reported error. phase is "ticket" or "receipt".
func RecordDeliveryError(phase, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	deliveryErrors.WithLabelValues(phase, reason).Inc()
}

// RecordTokenRemoved counts a destination removed from a user
func RecordTokenRemoved() {
	pushTokensRemoved.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(path string) {
	rateLimitRejections.WithLabelValues(path).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
