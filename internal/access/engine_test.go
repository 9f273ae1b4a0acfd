package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/consent"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/internal/store/memory"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/repository"
	"github.com/medrex/consent-ledger/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *Engine
	ledger   *consent.Ledger
	registry *registry.Registry
	audit    *audit.Log
	detector *Detector
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := &testClock{now: time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)}
	metrics := monitoring.NewMetricsCollector("test")
	log := logger.Discard()

	auditLog := audit.NewLog(store, store, clock.Now, metrics, log)
	reg := registry.New(store, auditLog, clock.Now, log)
	require.NoError(t, reg.Bootstrap([]*types.NetworkIdentity{
		{ID: "pat-1", Role: types.RolePatient, Organization: "Patients", Status: types.IdentityActive},
		{ID: "pat-2", Role: types.RolePatient, Organization: "Patients", Status: types.IdentityActive},
		{ID: "prov-1", Role: types.RoleProvider, Organization: "Clinic", Status: types.IdentityActive},
		{ID: "prov-2", Role: types.RoleProvider, Organization: "Clinic", Status: types.IdentityActive},
		{ID: "admin-1", Role: types.RoleAdmin, Organization: "Consortium", Status: types.IdentityActive},
	}))

	ledger := consent.NewLedger(store, reg, auditLog, consent.Options{Clock: clock.Now, Metrics: metrics, Logger: log})

	records := repository.NewMemoryRecordRepository()
	require.NoError(t, records.Put(context.Background(), &types.PatientRecord{
		PatientInfo: types.PatientInfo{ID: "pat-1", Name: "Alex Johnson", DOB: "1985-04-12"},
		Allergies:   []string{"Peanuts"},
	}))

	detector := NewDetector(DetectorConfig{Threshold: 3, Window: time.Minute}, clock.Now, metrics, log)
	engine := NewEngine(reg, ledger, auditLog, records, detector, metrics, log)

	return &fixture{engine: engine, ledger: ledger, registry: reg, audit: auditLog, detector: detector, clock: clock}
}

func (f *fixture) grant(t *testing.T, providerID, patientID string) string {
	t.Helper()
	id, err := f.ledger.RequestConsent(&types.ConsentRequest{ProviderID: providerID, PatientID: patientID, Purpose: "checkup"})
	require.NoError(t, err)
	require.NoError(t, f.ledger.ApproveConsent(id, patientID))
	return id
}

func (f *fixture) alerts(t *testing.T) []types.AuditLogEntry {
	t.Helper()
	entries, err := f.audit.Entries(&types.AuditFilter{Actions: []types.AuditAction{types.ActionAlert}})
	require.NoError(t, err)
	return entries
}

func TestAuthorize_RoundTrip(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.engine.Authorize("prov-1", "pat-1"))

	id := f.grant(t, "prov-1", "pat-1")
	assert.True(t, f.engine.Authorize("prov-1", "pat-1"))
	assert.False(t, f.engine.Authorize("prov-2", "pat-1"))
	assert.False(t, f.engine.Authorize("prov-1", "pat-2"))

	require.NoError(t, f.ledger.RevokeConsent(id, "pat-1"))
	assert.False(t, f.engine.Authorize("prov-1", "pat-1"))

	assert.Empty(t, f.alerts(t), "authorize must not write audit entries")
}

func TestDecide_Reasons(t *testing.T) {
	f := newFixture(t)
	id := f.grant(t, "prov-1", "pat-1")

	decision := f.engine.Decide("prov-1", "pat-1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, id, decision.ContractID)

	assert.Equal(t, types.ReasonUnknownProvider, f.engine.Decide("ghost", "pat-1").Reason)
	assert.Equal(t, types.ReasonNotProvider, f.engine.Decide("pat-2", "pat-1").Reason)
	assert.Equal(t, types.ReasonNoActiveConsent, f.engine.Decide("prov-2", "pat-1").Reason)

	require.NoError(t, f.registry.Suspend("admin-1", "prov-1"))
	decision = f.engine.Decide("prov-1", "pat-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.ReasonProviderSuspended, decision.Reason)
}

func TestAuthorize_ExpiresAtBoundary(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "prov-1", "pat-1")

	f.clock.Advance(30*24*time.Hour - time.Nanosecond)
	assert.True(t, f.engine.Authorize("prov-1", "pat-1"))

	f.clock.Advance(time.Nanosecond)
	assert.False(t, f.engine.Authorize("prov-1", "pat-1"))
}

func TestAccessRecords_GrantedProviderReadsRecord(t *testing.T) {
	f := newFixture(t)
	id := f.grant(t, "prov-1", "pat-1")

	record, err := f.engine.AccessRecords(context.Background(), "prov-1", "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "Alex Johnson", record.PatientInfo.Name)

	history, err := f.audit.QueryForContract(id)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, types.ActionAccess, last.Action)
	assert.Equal(t, "prov-1", last.ActorID)
	assert.Empty(t, f.alerts(t))
}

func TestAccessRecords_OtherProviderIsDenied(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "prov-1", "pat-1")
	before := len(f.alerts(t))

	_, err := f.engine.AccessRecords(context.Background(), "prov-2", "pat-1")
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	alerts := f.alerts(t)
	require.Len(t, alerts, before+1)
	alert := alerts[len(alerts)-1]
	assert.Equal(t, "prov-2", alert.ActorID)
	assert.Contains(t, alert.Details, "Unauthorized access attempt on pat-1")

	report, err := f.audit.VerifyGlobal()
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestAccessRecords_RevokedConsentIsDenied(t *testing.T) {
	f := newFixture(t)
	id := f.grant(t, "prov-1", "pat-1")
	require.NoError(t, f.ledger.RevokeConsent(id, "pat-1"))

	_, err := f.engine.AccessRecords(context.Background(), "prov-1", "pat-1")
	assert.ErrorIs(t, err, types.ErrAccessDenied)
	assert.Len(t, f.alerts(t), 1)

	history, err := f.audit.QueryForContract(id)
	require.NoError(t, err)
	for _, entry := range history {
		assert.NotEqual(t, types.ActionAccess, entry.Action)
	}
}

func TestAccessRecords_RecordsMissing(t *testing.T) {
	f := newFixture(t)
	id := f.grant(t, "prov-1", "pat-2")

	_, err := f.engine.AccessRecords(context.Background(), "prov-1", "pat-2")
	assert.ErrorIs(t, err, types.ErrRecordsNotFound)
	assert.Empty(t, f.alerts(t))

	history, err := f.audit.QueryForContract(id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAccessRecords_SuspendedProvider(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "prov-1", "pat-1")
	require.NoError(t, f.registry.Suspend("admin-1", "prov-1"))

	_, err := f.engine.AccessRecords(context.Background(), "prov-1", "pat-1")
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	alerts := f.alerts(t)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Details, types.ReasonProviderSuspended)
}

func TestAccessRecords_SuspendedPatient(t *testing.T) {
	f := newFixture(t)
	id := f.grant(t, "prov-1", "pat-1")
	require.NoError(t, f.registry.Suspend("admin-1", "pat-1"))

	assert.False(t, f.engine.Authorize("prov-1", "pat-1"))
	assert.Equal(t, types.ReasonPatientSuspended, f.engine.Decide("prov-1", "pat-1").Reason)

	_, err := f.engine.AccessRecords(context.Background(), "prov-1", "pat-1")
	assert.ErrorIs(t, err, types.ErrAccessDenied)

	alerts := f.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, "prov-1", alerts[0].ActorID)
	assert.Contains(t, alerts[0].Details, types.ReasonPatientSuspended)

	history, err := f.audit.QueryForContract(id)
	require.NoError(t, err)
	for _, entry := range history {
		assert.NotEqual(t, types.ActionAccess, entry.Action)
	}

	require.NoError(t, f.registry.Reinstate("admin-1", "pat-1"))
	assert.True(t, f.engine.Authorize("prov-1", "pat-1"))
}

func TestDecide_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, types.ReasonUnknownPatient, f.engine.Decide("prov-1", "ghost").Reason)
}

func TestAccessRecords_RepeatedDenialsFlagActor(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.engine.AccessRecords(context.Background(), "prov-2", "pat-1")
		assert.ErrorIs(t, err, types.ErrAccessDenied)
	}

	assert.Len(t, f.alerts(t), 3)
	assert.Equal(t, 3, f.detector.RecentDenials("prov-2"))
}
