package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors exported by orgkit.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics, labelled by cache name ("permissions", "plans", ...)
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Authorization and billing decisions
	AuthorizationChecksTotal *prometheus.CounterVec
	PlanLimitDenialsTotal    *prometheus.CounterVec
	PlanResolutionDriftTotal prometheus.Counter
	UsageReportsTotal        *prometheus.CounterVec
	WebhookEventsTotal       *prometheus.CounterVec

	// Background work
	NotificationsSentTotal *prometheus.CounterVec
	JobRunsTotal           *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgkit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_cache_errors_total",
				Help: "Total number of cache backend errors",
			},
			[]string{"cache", "operation"},
		),
		AuthorizationChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_authorization_checks_total",
				Help: "Permission checks by permission and outcome",
			},
			[]string{"permission", "allowed"},
		),
		PlanLimitDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_plan_limit_denials_total",
				Help: "Requests rejected because the organization reached a plan limit",
			},
			[]string{"feature", "plan"},
		),
		PlanResolutionDriftTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgkit_plan_resolution_drift_total",
				Help: "Valid subscriptions whose price matched no known plan",
			},
		),
		UsageReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_usage_reports_total",
				Help: "Metered usage events by meter and result",
			},
			[]string{"meter", "result"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_billing_webhook_events_total",
				Help: "Billing provider webhook events by type and result",
			},
			[]string{"type", "result"},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_notifications_sent_total",
				Help: "Notifications handed to the notifier by kind and result",
			},
			[]string{"kind", "result"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgkit_job_runs_total",
				Help: "Scheduled job executions by job and result",
			},
			[]string{"job", "result"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgkit_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.AuthorizationChecksTotal,
		m.PlanLimitDenialsTotal,
		m.PlanResolutionDriftTotal,
		m.UsageReportsTotal,
		m.WebhookEventsTotal,
		m.NotificationsSentTotal,
		m.JobRunsTotal,
		m.JobDuration,
	)

	return m
}

// ObserveJob records one job execution.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency per mux route
// template, so ids in paths do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
