package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medrex/consent-ledger/pkg/logger"
)

// RequestIDHeader carries the request id on requests and responses
const RequestIDHeader = "X-Request-ID"

// MonitoringMiddleware combines metrics, tracing, and logging for net/http routers
type MonitoringMiddleware struct {
	metrics *MetricsCollector
	tracing *TracingManager
	logger  *logger.Logger
}

// NewMonitoringMiddleware creates a new monitoring middleware
func NewMonitoringMiddleware(metrics *MetricsCollector, tracing *TracingManager, log *logger.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		tracing: tracing,
		logger:  log,
	}
}

// HTTPMiddleware creates comprehensive HTTP monitoring middleware
func (mm *MonitoringMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		ctx, span := mm.tracing.StartHTTPSpan(ctx, r.Method, r.URL.Path)
		defer span.End()
		span.SetAttributes(attribute.String("request.id", requestID))

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r.WithContext(ctx))

		duration := time.Since(start)
		mm.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), duration)
		if mm.logger != nil {
			mm.logger.HTTPRequest(ctx, r.Method, r.URL.Path, r.RemoteAddr, wrapper.statusCode, duration.Milliseconds())
		}
	})
}
