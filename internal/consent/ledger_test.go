package consent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/internal/store/memory"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	patientID  = "pat-1"
	providerID = "prov-1"
	otherProv  = "prov-2"
	adminID    = "admin-1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	ledger   *Ledger
	registry *registry.Registry
	audit    *audit.Log
	store    *memory.Store
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), nil)
}

func newFixtureWithStore(t *testing.T, store *memory.Store, contracts interfaces.ContractStore) *fixture {
	t.Helper()
	if contracts == nil {
		contracts = store
	}
	clock := &fakeClock{now: time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)}
	auditLog := audit.NewLog(store, contracts, clock.Now, nil, logger.Discard())
	reg := registry.New(store, auditLog, clock.Now, logger.Discard())

	require.NoError(t, reg.Bootstrap([]*types.NetworkIdentity{
		{ID: patientID, Role: types.RolePatient, Organization: "Patients", Status: types.IdentityActive},
		{ID: "pat-2", Role: types.RolePatient, Organization: "Patients", Status: types.IdentityActive},
		{ID: providerID, Role: types.RoleProvider, Organization: "Clinic", Status: types.IdentityActive},
		{ID: otherProv, Role: types.RoleProvider, Organization: "Clinic", Status: types.IdentityActive},
		{ID: adminID, Role: types.RoleAdmin, Organization: "Consortium", Status: types.IdentityActive},
	}))

	seq := 0
	var seqMu sync.Mutex
	ledger := NewLedger(contracts, reg, auditLog, Options{
		Clock: clock.Now,
		IDGenerator: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("con-%04d", seq)
		},
		Metrics: monitoring.NewMetricsCollector("test"),
		Logger:  logger.Discard(),
	})

	return &fixture{ledger: ledger, registry: reg, audit: auditLog, store: store, clock: clock}
}

func (f *fixture) request(t *testing.T, purpose string) string {
	t.Helper()
	id, err := f.ledger.RequestConsent(&types.ConsentRequest{ProviderID: providerID, PatientID: patientID, Purpose: purpose})
	require.NoError(t, err)
	return id
}

func TestRequestConsent_CreatesPendingContract(t *testing.T) {
	f := newFixture(t)

	id := f.request(t, "checkup")
	assert.Equal(t, "con-0001", id)

	contracts, err := f.ledger.GetContractsForPatient(patientID)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, id, contracts[0].ContractID)
	assert.Equal(t, types.StatusPending, contracts[0].Status)
	assert.Equal(t, types.DefaultDurationDays, contracts[0].DurationDays)

	require.Len(t, contracts[0].History, 1)
	assert.Equal(t, types.ActionRequest, contracts[0].History[0].Action)
	assert.Equal(t, providerID, contracts[0].History[0].ActorID)
}

func TestRequestConsent_Validation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Suspend(adminID, otherProv))

	tests := []struct {
		name string
		req  *types.ConsentRequest
		want error
	}{
		{"nil request", nil, types.ErrValidation},
		{"missing purpose", &types.ConsentRequest{ProviderID: providerID, PatientID: patientID}, types.ErrValidation},
		{"negative duration", &types.ConsentRequest{ProviderID: providerID, PatientID: patientID, Purpose: "x", DurationDays: -1}, types.ErrValidation},
		{"unknown provider", &types.ConsentRequest{ProviderID: "ghost", PatientID: patientID, Purpose: "x"}, types.ErrIdentityNotFound},
		{"unknown patient", &types.ConsentRequest{ProviderID: providerID, PatientID: "ghost", Purpose: "x"}, types.ErrIdentityNotFound},
		{"suspended provider", &types.ConsentRequest{ProviderID: otherProv, PatientID: patientID, Purpose: "x"}, types.ErrIdentitySuspended},
		{"patient requesting", &types.ConsentRequest{ProviderID: "pat-2", PatientID: patientID, Purpose: "x"}, types.ErrNotAuthorized},
		{"provider as patient", &types.ConsentRequest{ProviderID: providerID, PatientID: adminID, Purpose: "x"}, types.ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.RequestConsent(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	contracts, err := f.store.ListContracts()
	require.NoError(t, err)
	assert.Empty(t, contracts)
}

func TestRequestConsent_DuplicatesAllowed(t *testing.T) {
	f := newFixture(t)

	first := f.request(t, "checkup")
	second := f.request(t, "checkup")
	assert.NotEqual(t, first, second)
}

func TestApproveConsent(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, "checkup")

	f.clock.Set(f.clock.Now().Add(time.Hour))
	require.NoError(t, f.ledger.ApproveConsent(id, patientID))

	contract, err := f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, contract.Status)
	require.NotNil(t, contract.ApprovedAt)
	require.NotNil(t, contract.ExpiresAt)
	assert.Equal(t, f.clock.Now(), *contract.ApprovedAt)
	assert.Equal(t, contract.ApprovedAt.Add(30*24*time.Hour), *contract.ExpiresAt)

	require.Len(t, contract.History, 2)
	assert.Equal(t, types.ActionApprove, contract.History[1].Action)
	assert.Equal(t, patientID, contract.History[1].ActorID)
	assert.True(t, audit.Verify(contract.History).Valid)

	active, err := f.ledger.FindActive(providerID, patientID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, id, active.ContractID)
}

func TestApproveConsent_Errors(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, "checkup")

	assert.ErrorIs(t, f.ledger.ApproveConsent("con-missing", patientID), types.ErrContractNotFound)
	assert.ErrorIs(t, f.ledger.ApproveConsent(id, "pat-2"), types.ErrNotAuthorized)
	assert.ErrorIs(t, f.ledger.ApproveConsent(id, providerID), types.ErrNotAuthorized)

	require.NoError(t, f.registry.Suspend(adminID, patientID))
	assert.ErrorIs(t, f.ledger.ApproveConsent(id, patientID), types.ErrIdentitySuspended)
	require.NoError(t, f.registry.Reinstate(adminID, patientID))

	require.NoError(t, f.ledger.ApproveConsent(id, patientID))
	assert.ErrorIs(t, f.ledger.ApproveConsent(id, patientID), types.ErrInvalidTransition)

	contract, err := f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Len(t, contract.History, 2)
}

func TestApproveConsent_RejectsSecondActiveForSameTriple(t *testing.T) {
	f := newFixture(t)
	first := f.request(t, "checkup")
	second := f.request(t, "Checkup")
	other := f.request(t, "surgery")

	require.NoError(t, f.ledger.ApproveConsent(first, patientID))
	assert.ErrorIs(t, f.ledger.ApproveConsent(second, patientID), types.ErrDuplicateConsent)
	require.NoError(t, f.ledger.ApproveConsent(other, patientID))

	require.NoError(t, f.ledger.RevokeConsent(first, patientID))
	require.NoError(t, f.ledger.ApproveConsent(second, patientID))
}

func TestRevokeConsent_ActiveContractIsTerminal(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, "checkup")
	require.NoError(t, f.ledger.ApproveConsent(id, patientID))

	require.NoError(t, f.ledger.RevokeConsent(id, patientID))

	active, err := f.ledger.FindActive(providerID, patientID)
	require.NoError(t, err)
	assert.Nil(t, active)

	contract, err := f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoked, contract.Status)
	assert.Equal(t, types.ActionRevoke, contract.History[len(contract.History)-1].Action)

	assert.ErrorIs(t, f.ledger.RevokeConsent(id, patientID), types.ErrInvalidTransition)
	assert.ErrorIs(t, f.ledger.ApproveConsent(id, patientID), types.ErrInvalidTransition)
}

func TestRevokeConsent_PendingAndSuspendedPatient(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, "checkup")

	require.NoError(t, f.registry.Suspend(adminID, patientID))
	require.NoError(t, f.ledger.RevokeConsent(id, patientID))

	contract, err := f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoked, contract.Status)

	assert.ErrorIs(t, f.ledger.RevokeConsent(id, "pat-2"), types.ErrNotAuthorized)
}

func TestExpiry_Boundary(t *testing.T) {
	f := newFixture(t)
	id, err := f.ledger.RequestConsent(&types.ConsentRequest{ProviderID: providerID, PatientID: patientID, Purpose: "checkup", DurationDays: 1})
	require.NoError(t, err)
	require.NoError(t, f.ledger.ApproveConsent(id, patientID))

	contract, err := f.ledger.GetContract(id)
	require.NoError(t, err)
	expiresAt := *contract.ExpiresAt

	f.clock.Set(expiresAt.Add(-time.Nanosecond))
	contract, err = f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, contract.Status)

	f.clock.Set(expiresAt)
	contract, err = f.ledger.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, contract.Status)

	active, err := f.ledger.FindActive(providerID, patientID)
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.ErrorIs(t, f.ledger.RevokeConsent(id, patientID), types.ErrInvalidTransition)
	assert.ErrorIs(t, f.ledger.RecordAccess(id, providerID), types.ErrAccessDenied)

	// lazily expired contracts do not block a new grant for the same triple
	next := f.request(t, "checkup")
	require.NoError(t, f.ledger.ApproveConsent(next, patientID))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	id, err := f.ledger.RequestConsent(&types.ConsentRequest{ProviderID: providerID, PatientID: patientID, Purpose: "checkup", DurationDays: 1})
	require.NoError(t, err)
	require.NoError(t, f.ledger.ApproveConsent(id, patientID))
	pending := f.request(t, "other")

	n, err := f.ledger.ExpireStale()
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(f.clock.Now().Add(48 * time.Hour))
	n, err = f.ledger.ExpireStale()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetContract(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, stored.Status)
	last := stored.History[len(stored.History)-1]
	assert.Equal(t, types.ActionExpire, last.Action)
	assert.Equal(t, types.SystemActorID, last.ActorID)
	assert.True(t, audit.Verify(stored.History).Valid)

	untouched, err := f.store.GetContract(pending)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, untouched.Status)

	n, err = f.ledger.ExpireStale()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordAccess(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, "checkup")

	assert.ErrorIs(t, f.ledger.RecordAccess(id, providerID), types.ErrAccessDenied)

	require.NoError(t, f.ledger.ApproveConsent(id, patientID))
	assert.ErrorIs(t, f.ledger.RecordAccess(id, otherProv), types.ErrAccessDenied)
	require.NoError(t, f.ledger.RecordAccess(id, providerID))

	history, err := f.audit.QueryForContract(id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, types.ActionAccess, history[2].Action)
	assert.Equal(t, providerID, history[2].ActorID)
}

func TestGetContractsForProvider_NewestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.request(t, "a")
	f.clock.Set(f.clock.Now().Add(time.Minute))
	second := f.request(t, "b")

	contracts, err := f.ledger.GetContractsForProvider(providerID)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, second, contracts[0].ContractID)
	assert.Equal(t, first, contracts[1].ContractID)

	none, err := f.ledger.GetContractsForProvider(otherProv)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// barrierStore holds the first n contract reads until all n have arrived,
// so concurrent operations observe the same snapshot.
type barrierStore struct {
	*memory.Store
	mu      sync.Mutex
	pending int
	gate    sync.WaitGroup
}

func (b *barrierStore) GetContract(id string) (*types.ConsentContract, error) {
	contract, err := b.Store.GetContract(id)

	b.mu.Lock()
	wait := b.pending > 0
	if wait {
		b.pending--
	}
	b.mu.Unlock()

	if wait {
		b.gate.Done()
		b.gate.Wait()
	}
	return contract, err
}

func TestConcurrentApproveAndRevoke_OneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := memory.New()
		barrier := &barrierStore{Store: store}
		f := newFixtureWithStore(t, store, barrier)
		id := f.request(t, "checkup")

		barrier.mu.Lock()
		barrier.pending = 2
		barrier.gate.Add(2)
		barrier.mu.Unlock()

		var approveErr, revokeErr error
		var g errgroup.Group
		g.Go(func() error {
			approveErr = f.ledger.ApproveConsent(id, patientID)
			return nil
		})
		g.Go(func() error {
			revokeErr = f.ledger.RevokeConsent(id, patientID)
			return nil
		})
		require.NoError(t, g.Wait())

		contract, err := f.ledger.GetContract(id)
		require.NoError(t, err)
		require.Len(t, contract.History, 2)

		switch {
		case approveErr == nil:
			assert.ErrorIs(t, revokeErr, types.ErrInvalidTransition)
			assert.Equal(t, types.StatusActive, contract.Status)
			assert.Equal(t, types.ActionApprove, contract.History[1].Action)
		case revokeErr == nil:
			assert.ErrorIs(t, approveErr, types.ErrInvalidTransition)
			assert.Equal(t, types.StatusRevoked, contract.Status)
			assert.Equal(t, types.ActionRevoke, contract.History[1].Action)
		default:
			t.Fatalf("both operations failed: approve=%v revoke=%v", approveErr, revokeErr)
		}
	}
}

func TestConcurrentApprovals_SameTriple(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = f.request(t, "checkup")
	}

	var mu sync.Mutex
	succeeded := 0
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := f.ledger.ApproveConsent(id, patientID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, types.ErrDuplicateConsent)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, succeeded)
}

func TestTransitionTable(t *testing.T) {
	statuses := []types.ContractStatus{types.StatusPending, types.StatusActive, types.StatusRevoked, types.StatusExpired}
	events := []Event{EventApprove, EventRevoke, EventExpire}

	allowed := map[string]types.ContractStatus{
		"PENDING/approve": types.StatusActive,
		"PENDING/revoke":  types.StatusRevoked,
		"ACTIVE/revoke":   types.StatusRevoked,
		"ACTIVE/expire":   types.StatusExpired,
	}

	for _, from := range statuses {
		for _, event := range events {
			key := fmt.Sprintf("%s/%s", from, event)
			to, err := Transition(from, event)
			if want, ok := allowed[key]; ok {
				require.NoError(t, err, key)
				assert.Equal(t, want, to, key)
			} else {
				assert.ErrorIs(t, err, types.ErrInvalidTransition, key)
			}
		}
	}
	assert.True(t, types.StatusRevoked.IsTerminal())
	assert.True(t, types.StatusExpired.IsTerminal())
}

// Random operation sequences never yield a status change outside the table
func TestLedger_RandomSequencesStayInTable(t *testing.T) {
	f := newFixture(t)
	ids := []string{f.request(t, "a"), f.request(t, "a"), f.request(t, "b")}

	allowed := map[[2]types.ContractStatus]bool{
		{types.StatusPending, types.StatusActive}:  true,
		{types.StatusPending, types.StatusRevoked}: true,
		{types.StatusActive, types.StatusRevoked}:  true,
		{types.StatusActive, types.StatusExpired}:  true,
	}

	for step := 0; step < 60; step++ {
		id := ids[step%len(ids)]
		before, err := f.store.GetContract(id)
		require.NoError(t, err)

		switch step % 4 {
		case 0:
			_ = f.ledger.ApproveConsent(id, patientID)
		case 1:
			_ = f.ledger.RevokeConsent(id, patientID)
		case 2:
			f.clock.Set(f.clock.Now().Add(11 * 24 * time.Hour))
			_, _ = f.ledger.ExpireStale()
		case 3:
			_ = f.ledger.RecordAccess(id, providerID)
		}

		for _, cid := range ids {
			after, err := f.store.GetContract(cid)
			require.NoError(t, err)
			if cid == id {
				if before.Status != after.Status {
					assert.True(t, allowed[[2]types.ContractStatus{before.Status, after.Status}],
						"%s -> %s", before.Status, after.Status)
				}
			}
			assert.True(t, audit.Verify(after.History).Valid)
		}
	}
}
