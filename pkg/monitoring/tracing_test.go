package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingManager() (*TracingManager, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracingManagerWithProvider("test", tp), recorder
}

func TestTracingManager_LedgerSpan(t *testing.T) {
	tm, recorder := newRecordingManager()

	ctx, span := tm.StartLedgerSpan(context.Background(), "approve")
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	tm.RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ledger.approve", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracingManager_HTTPMiddleware(t *testing.T) {
	tm, recorder := newRecordingManager()

	handler := tm.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, TraceIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/users", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /admin/users", spans[0].Name())
}

func TestTracingManager_NilIsSafe(t *testing.T) {
	var tm *TracingManager
	ctx, span := tm.StartLedgerSpan(context.Background(), "request")
	span.End()
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.NoError(t, tm.Shutdown(context.Background()))
}
