package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	opDurationBuckets   = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments for the orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Process metrics
	ProcessStartsTotal      *prometheus.CounterVec
	ProcessTransitionsTotal *prometheus.CounterVec

	// Task metrics
	TaskAssignmentsTotal *prometheus.CounterVec
	TaskCompletionsTotal *prometheus.CounterVec

	// SLA metrics
	SLAViolationsTotal *prometheus.CounterVec
	SLASweepDuration   prometheus.Histogram

	// Event bus metrics
	BusPublishesTotal       *prometheus.CounterVec
	BusHandlerFailuresTotal *prometheus.CounterVec

	// Rewrite engine metrics
	RuleEvaluationsTotal  *prometheus.CounterVec
	RuleApplicationsTotal *prometheus.CounterVec
	RuleFailuresTotal     *prometheus.CounterVec
	EvaluationDuration    prometheus.Histogram
	RulesLoaded           prometheus.Gauge
	RuleReloadTotal       *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waypoint_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		ProcessStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_process_starts_total",
			Help: "Total number of process instances started.",
		}, []string{"definition_id"}),
		ProcessTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_process_transitions_total",
			Help: "Total number of process status transitions.",
		}, []string{"from", "to"}),

		TaskAssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_task_assignments_total",
			Help: "Total number of task assignments.",
		}, []string{"method"}),
		TaskCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_task_completions_total",
			Help: "Total number of task completions.",
		}, []string{"status"}),

		SLAViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_sla_violations_total",
			Help: "Total number of SLA status transitions into at-risk or breached.",
		}, []string{"severity"}),
		SLASweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "waypoint_sla_sweep_duration_seconds",
			Help:    "SLA compliance sweep duration in seconds.",
			Buckets: opDurationBuckets,
		}),

		BusPublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_bus_publishes_total",
			Help: "Total number of events published on the bus.",
		}, []string{"event_type"}),
		BusHandlerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_bus_handler_failures_total",
			Help: "Total number of suppressed subscriber failures during fan-out.",
		}, []string{"event_type"}),

		RuleEvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_rule_evaluations_total",
			Help: "Total number of rule condition evaluations.",
		}, []string{"matched"}),
		RuleApplicationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_rule_applications_total",
			Help: "Total number of applied rule actions.",
		}, []string{"action"}),
		RuleFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_rule_failures_total",
			Help: "Total number of isolated per-rule evaluation failures.",
		}, []string{"rule_id"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "waypoint_journey_evaluation_duration_seconds",
			Help:    "Journey evaluation duration in seconds.",
			Buckets: opDurationBuckets,
		}),
		RulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waypoint_rules_loaded",
			Help: "Number of active rules in the current snapshot.",
		}),
		RuleReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waypoint_rule_reload_total",
			Help: "Total rule snapshot reloads.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProcessStartsTotal,
		m.ProcessTransitionsTotal,
		m.TaskAssignmentsTotal,
		m.TaskCompletionsTotal,
		m.SLAViolationsTotal,
		m.SLASweepDuration,
		m.BusPublishesTotal,
		m.BusHandlerFailuresTotal,
		m.RuleEvaluationsTotal,
		m.RuleApplicationsTotal,
		m.RuleFailuresTotal,
		m.EvaluationDuration,
		m.RulesLoaded,
		m.RuleReloadTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware records request count and duration per route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
