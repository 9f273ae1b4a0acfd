package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/internal/store/memory"
	"github.com/medrex/consent-ledger/pkg/repository"
	"github.com/medrex/consent-ledger/pkg/service"
	"github.com/medrex/consent-ledger/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLedgerService(t *testing.T) *service.ConsentLedgerService {
	t.Helper()
	records := repository.NewMemoryRecordRepository()
	require.NoError(t, records.Put(context.Background(), repository.DemoRecord()))

	now := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	svc := service.NewConsentLedgerService(memory.New(), records, service.Options{
		Clock: func() time.Time { return now },
	})
	require.NoError(t, svc.Bootstrap(registry.DemoIdentities()))
	return svc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlers_ConsentLifecycle(t *testing.T) {
	router := NewRouter(NewHandlers(newLedgerService(t), nil, nil))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/consents", map[string]interface{}{
		"provider_id": registry.DemoProviderID,
		"patient_id":  registry.DemoPatientID,
		"purpose":     "Annual checkup",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]string](t, rec)
	contractID := created["contract_id"]
	require.NotEmpty(t, contractID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/access/authorize?provider_id=provider-789&patient_id=patient-123", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[types.Decision](t, rec).Allowed)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents/"+contractID+"/approve", map[string]string{"patient_id": registry.DemoPatientID}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusActive, decode[types.ConsentContract](t, rec).Status)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/patients/patient-123/records?provider_id=provider-789", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Alex Johnson", decode[types.PatientRecord](t, rec).PatientInfo.Name)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/consents/"+contractID+"/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		History []types.AuditLogEntry `json:"history"`
	}](t, rec)
	require.Len(t, history.History, 3)
	assert.Equal(t, types.ActionAccess, history.History[2].Action)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents/"+contractID+"/revoke", map[string]string{"patient_id": registry.DemoPatientID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/patients/patient-123/records?provider_id=provider-789", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.KindAccessDenied, decode[ErrorResponse](t, rec).Error)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents/"+contractID+"/approve", map[string]string{"patient_id": registry.DemoPatientID}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, types.KindInvalidTransition, decode[ErrorResponse](t, rec).Error)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/patients/patient-123/consents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["count"])
}

func TestHandlers_ErrorMapping(t *testing.T) {
	router := NewRouter(NewHandlers(newLedgerService(t), nil, nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		kind   types.ErrorKind
	}{
		{"missing contract", http.MethodGet, "/api/v1/consents/con-missing", nil, http.StatusNotFound, types.KindContractNotFound},
		{"malformed request", http.MethodPost, "/api/v1/consents", map[string]string{"provider_id": "provider-789"}, http.StatusBadRequest, types.KindValidation},
		{"unknown provider", http.MethodPost, "/api/v1/consents", map[string]string{"provider_id": "ghost", "patient_id": "patient-123", "purpose": "x"}, http.StatusNotFound, types.KindIdentityNotFound},
		{"approve without patient", http.MethodPost, "/api/v1/consents/con-missing/approve", map[string]string{}, http.StatusBadRequest, types.KindValidation},
		{"authorize without params", http.MethodGet, "/api/v1/access/authorize", nil, http.StatusBadRequest, types.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestHandlers_InternalErrorsAreOpaque(t *testing.T) {
	svc := new(MockLedgerService)
	svc.On("GetContract", mock.Anything, "con-1").Return(nil, errors.New("disk on fire"))
	svc.On("Health", mock.Anything).Return(errors.New("store down"))
	router := NewRouter(NewHandlers(svc, nil, nil))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/consents/con-1", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, types.KindInternal, resp.Error)
	assert.NotContains(t, resp.Message, "disk")

	rec = doJSON(t, router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	svc.AssertExpectations(t)
}

func TestHandlers_BearerTokenMustMatchActor(t *testing.T) {
	auth := NewTokenValidator("test-secret", "consent-ledger", "consent-ledger-users")
	router := NewRouter(NewHandlers(newLedgerService(t), auth, nil))

	body := map[string]string{"provider_id": registry.DemoProviderID, "patient_id": registry.DemoPatientID, "purpose": "checkup"}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/consents", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents", body, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	patientToken, err := auth.GenerateToken(registry.DemoPatientID, types.RolePatient, time.Hour)
	require.NoError(t, err)
	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents", body, patientToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, types.KindNotAuthorized, decode[ErrorResponse](t, rec).Error)

	providerToken, err := auth.GenerateToken(registry.DemoProviderID, types.RoleProvider, time.Hour)
	require.NoError(t, err)
	rec = doJSON(t, router, http.MethodPost, "/api/v1/consents", body, providerToken)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
