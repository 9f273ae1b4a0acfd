package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection. Each collector owns
// its registry, so several instances may coexist in one process.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	consentTransitions  *prometheus.CounterVec
	accessDecisions     *prometheus.CounterVec
	securityAlerts      *prometheus.CounterVec
	auditEntries        *prometheus.CounterVec
	suspiciousActors    *prometheus.CounterVec
	systemErrors        *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		consentTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consent_transitions_total",
				Help: "Total number of consent contract state transitions",
			},
			[]string{"to_status", "service"},
		),
		accessDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_decisions_total",
				Help: "Total number of access control decisions",
			},
			[]string{"decision", "service"},
		),
		securityAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_alerts_total",
				Help: "Total number of ALERT entries written to the security log",
			},
			[]string{"service"},
		),
		auditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_entries_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"action", "service"},
		),
		suspiciousActors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suspicious_actors_total",
				Help: "Total number of actors flagged for repeated denied access",
			},
			[]string{"service"},
		),
		systemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "system_errors_total",
				Help: "Total number of system errors",
			},
			[]string{"error_type", "service", "component"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.consentTransitions,
		m.accessDecisions,
		m.securityAlerts,
		m.auditEntries,
		m.suspiciousActors,
		m.systemErrors,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordConsentTransition records a contract reaching a new status
func (m *MetricsCollector) RecordConsentTransition(toStatus string) {
	if m == nil {
		return
	}
	m.consentTransitions.WithLabelValues(toStatus, m.serviceName).Inc()
}

// RecordAccessDecision records an allow or deny decision
func (m *MetricsCollector) RecordAccessDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.accessDecisions.WithLabelValues(decision, m.serviceName).Inc()
}

// RecordSecurityAlert records an ALERT written to the global log
func (m *MetricsCollector) RecordSecurityAlert() {
	if m == nil {
		return
	}
	m.securityAlerts.WithLabelValues(m.serviceName).Inc()
}

// RecordAuditEntry records an appended audit entry
func (m *MetricsCollector) RecordAuditEntry(action string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(action, m.serviceName).Inc()
}

// RecordSuspiciousActor records an actor crossing the denial threshold
func (m *MetricsCollector) RecordSuspiciousActor() {
	if m == nil {
		return
	}
	m.suspiciousActors.WithLabelValues(m.serviceName).Inc()
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	if m == nil {
		return
	}
	m.systemErrors.WithLabelValues(errorType, m.serviceName, component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware creates middleware for HTTP request metrics
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
