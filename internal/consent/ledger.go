// Package consent implements the consent contract lifecycle.
package consent

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/keylock"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Options configures a Ledger. Zero values select the defaults.
type Options struct {
	Clock               types.Clock
	IDGenerator         func() string
	DefaultDurationDays int
	Metrics             *monitoring.MetricsCollector
	Logger              *logger.Logger
}

// Ledger issues, approves, revokes and expires consent contracts
type Ledger struct {
	store       interfaces.ContractStore
	registry    *registry.Registry
	audit       *audit.Log
	locks       *keylock.KeyLock
	clock       types.Clock
	newID       func() string
	defaultDays int
	metrics     *monitoring.MetricsCollector
	logger      *logger.Logger
}

// NewLedger creates a consent ledger
func NewLedger(store interfaces.ContractStore, reg *registry.Registry, auditLog *audit.Log, opts Options) *Ledger {
	l := &Ledger{
		store:       store,
		registry:    reg,
		audit:       auditLog,
		locks:       keylock.New(),
		clock:       opts.Clock,
		newID:       opts.IDGenerator,
		defaultDays: opts.DefaultDurationDays,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if l.clock == nil {
		l.clock = types.SystemClock
	}
	if l.newID == nil {
		l.newID = NewContractID
	}
	if l.defaultDays <= 0 {
		l.defaultDays = types.DefaultDurationDays
	}
	if l.logger == nil {
		l.logger = logger.Discard()
	}
	return l
}

// NewContractID returns a fresh "con-" prefixed identifier
func NewContractID() string {
	return "con-" + uuid.New().String()
}

func contractLockKey(contractID string) string {
	return "contract/" + contractID
}

func tripleLockKey(triple string) string {
	return "triple/" + triple
}

// RequestConsent creates a PENDING contract on behalf of a provider
func (l *Ledger) RequestConsent(req *types.ConsentRequest) (string, error) {
	if req == nil {
		return "", types.NewValidationError("request", "is required")
	}
	normalized := *req
	normalized.Normalize(l.defaultDays)
	if err := normalized.Validate(); err != nil {
		return "", err
	}

	provider, err := l.registry.RequireActive(normalized.ProviderID)
	if err != nil {
		return "", err
	}
	if provider.Role != types.RoleProvider {
		return "", types.NewLedgerError(types.KindNotAuthorized, "identity %s cannot request consent", provider.ID)
	}

	patient, err := l.registry.RequireActive(normalized.PatientID)
	if err != nil {
		return "", err
	}
	if patient.Role != types.RolePatient {
		return "", types.NewLedgerError(types.KindNotAuthorized, "identity %s is not a patient", patient.ID)
	}

	now := l.clock()
	contract := &types.ConsentContract{
		ContractID:   l.newID(),
		PatientID:    normalized.PatientID,
		ProviderID:   normalized.ProviderID,
		Purpose:      normalized.Purpose,
		Status:       types.StatusPending,
		DurationDays: normalized.DurationDays,
		CreatedAt:    now,
	}

	unlock := l.locks.Lock(contractLockKey(contract.ContractID))
	defer unlock()

	if _, err := l.store.GetContract(contract.ContractID); err == nil {
		return "", types.NewInternalError("generated contract id collides with an existing contract", nil).
			WithDetail("contract_id", contract.ContractID)
	} else if !errors.Is(err, types.ErrNotFound) {
		return "", fmt.Errorf("failed to check contract %s: %w", contract.ContractID, err)
	}

	l.audit.Chain(contract, types.ActionRequest, provider.ID,
		fmt.Sprintf("purpose=%s duration_days=%d", contract.Purpose, contract.DurationDays), now)
	if err := l.store.PutContract(contract); err != nil {
		return "", fmt.Errorf("failed to store contract %s: %w", contract.ContractID, err)
	}

	l.metrics.RecordConsentTransition(string(types.StatusPending))
	l.logger.ConsentTransition(contract.ContractID, provider.ID, "", string(types.StatusPending))
	return contract.ContractID, nil
}

// ApproveConsent moves a PENDING contract to ACTIVE. Only the contract's
// patient may approve, and only while no other contract for the same
// (patient, provider, purpose) is effectively ACTIVE.
func (l *Ledger) ApproveConsent(contractID, patientID string) error {
	snapshot, err := l.load(contractID)
	if err != nil {
		return err
	}
	if snapshot.PatientID != patientID {
		return types.NewLedgerError(types.KindNotAuthorized, "identity %s may not approve contract %s", patientID, contractID)
	}
	if _, err := l.registry.RequireActive(patientID); err != nil {
		return err
	}

	now := l.clock()
	if _, err := Transition(snapshot.EffectiveStatus(now), EventApprove); err != nil {
		return err
	}

	unlock := l.locks.LockAll(contractLockKey(contractID), tripleLockKey(snapshot.TripleKey()))
	defer unlock()

	current, err := l.reload(snapshot)
	if err != nil {
		return err
	}

	if err := l.ensureNoActiveDuplicate(current, now); err != nil {
		return err
	}

	expiresAt := now.Add(time.Duration(current.DurationDays) * 24 * time.Hour)
	current.Status = types.StatusActive
	current.ApprovedAt = &now
	current.ExpiresAt = &expiresAt

	return l.commit(current, snapshot.Status, EventApprove, patientID,
		"expires_at="+expiresAt.Format(time.RFC3339), now)
}

// RevokeConsent moves a PENDING or effectively ACTIVE contract to REVOKED.
// A suspended patient may still revoke.
func (l *Ledger) RevokeConsent(contractID, patientID string) error {
	snapshot, err := l.load(contractID)
	if err != nil {
		return err
	}
	if snapshot.PatientID != patientID {
		return types.NewLedgerError(types.KindNotAuthorized, "identity %s may not revoke contract %s", patientID, contractID)
	}
	if _, err := l.registry.Get(patientID); err != nil {
		return err
	}

	now := l.clock()
	if _, err := Transition(snapshot.EffectiveStatus(now), EventRevoke); err != nil {
		return err
	}

	unlock := l.locks.Lock(contractLockKey(contractID))
	defer unlock()

	current, err := l.reload(snapshot)
	if err != nil {
		return err
	}
	if _, err := Transition(current.EffectiveStatus(now), EventRevoke); err != nil {
		return err
	}

	current.Status = types.StatusRevoked
	return l.commit(current, snapshot.Status, EventRevoke, patientID, "", now)
}

// ExpireStale persists EXPIRED for every stored ACTIVE contract whose expiry
// has passed and returns how many were rewritten.
func (l *Ledger) ExpireStale() (int, error) {
	contracts, err := l.store.ListContracts()
	if err != nil {
		return 0, fmt.Errorf("failed to list contracts: %w", err)
	}

	now := l.clock()
	expired := 0
	for _, snapshot := range contracts {
		if snapshot.Status != types.StatusActive || snapshot.EffectiveStatus(now) != types.StatusExpired {
			continue
		}
		ok, err := l.expire(snapshot, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (l *Ledger) expire(snapshot *types.ConsentContract, now time.Time) (bool, error) {
	unlock := l.locks.Lock(contractLockKey(snapshot.ContractID))
	defer unlock()

	current, err := l.reload(snapshot)
	if err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	if current.EffectiveStatus(now) != types.StatusExpired {
		return false, nil
	}

	current.Status = types.StatusExpired
	if err := l.commit(current, snapshot.Status, EventExpire, types.SystemActorID, "", now); err != nil {
		return false, err
	}
	return true, nil
}

// RecordAccess appends an ACCESS entry to a contract's history, provided the
// contract still authorizes providerID at the time of the write.
func (l *Ledger) RecordAccess(contractID, providerID string) error {
	unlock := l.locks.Lock(contractLockKey(contractID))
	defer unlock()

	contract, err := l.load(contractID)
	if err != nil {
		return err
	}

	now := l.clock()
	if contract.ProviderID != providerID || !contract.IsEffectivelyActive(now) {
		return types.NewLedgerError(types.KindAccessDenied, "contract %s no longer authorizes %s", contractID, providerID)
	}

	l.audit.Chain(contract, types.ActionAccess, providerID, "records accessed for "+contract.PatientID, now)
	if err := l.store.PutContract(contract); err != nil {
		return fmt.Errorf("failed to store contract %s: %w", contractID, err)
	}
	return nil
}

// GetContract returns a contract with its effective status applied
func (l *Ledger) GetContract(contractID string) (*types.ConsentContract, error) {
	contract, err := l.load(contractID)
	if err != nil {
		return nil, err
	}
	contract.Status = contract.EffectiveStatus(l.clock())
	return contract, nil
}

// GetContractsForProvider returns the provider's contracts, newest first
func (l *Ledger) GetContractsForProvider(providerID string) ([]*types.ConsentContract, error) {
	return l.list(func(c *types.ConsentContract) bool { return c.ProviderID == providerID })
}

// GetContractsForPatient returns the patient's contracts, newest first
func (l *Ledger) GetContractsForPatient(patientID string) ([]*types.ConsentContract, error) {
	return l.list(func(c *types.ConsentContract) bool { return c.PatientID == patientID })
}

// FindActive returns the newest effectively ACTIVE contract between the pair,
// or nil when there is none.
func (l *Ledger) FindActive(providerID, patientID string) (*types.ConsentContract, error) {
	contracts, err := l.list(func(c *types.ConsentContract) bool {
		return c.ProviderID == providerID && c.PatientID == patientID
	})
	if err != nil {
		return nil, err
	}
	for _, contract := range contracts {
		if contract.Status == types.StatusActive {
			return contract, nil
		}
	}
	return nil, nil
}

func (l *Ledger) list(match func(*types.ConsentContract) bool) ([]*types.ConsentContract, error) {
	contracts, err := l.store.ListContracts()
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	now := l.clock()
	out := make([]*types.ConsentContract, 0)
	for _, contract := range contracts {
		if !match(contract) {
			continue
		}
		contract.Status = contract.EffectiveStatus(now)
		out = append(out, contract)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ContractID > out[j].ContractID
	})
	return out, nil
}

func (l *Ledger) load(contractID string) (*types.ConsentContract, error) {
	contract, err := l.store.GetContract(contractID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NewLedgerError(types.KindContractNotFound, "contract %s not found", contractID)
		}
		return nil, fmt.Errorf("failed to load contract %s: %w", contractID, err)
	}
	return contract, nil
}

// reload re-reads a contract under its lock and fails with InvalidTransition
// when another operation changed its stored status since snapshot was taken.
func (l *Ledger) reload(snapshot *types.ConsentContract) (*types.ConsentContract, error) {
	current, err := l.load(snapshot.ContractID)
	if err != nil {
		return nil, err
	}
	if current.Status != snapshot.Status {
		return nil, types.NewLedgerError(types.KindInvalidTransition,
			"contract %s changed from %s to %s concurrently", snapshot.ContractID, snapshot.Status, current.Status).
			WithDetail("status", current.Status)
	}
	return current, nil
}

func (l *Ledger) ensureNoActiveDuplicate(candidate *types.ConsentContract, now time.Time) error {
	contracts, err := l.store.ListContracts()
	if err != nil {
		return fmt.Errorf("failed to list contracts: %w", err)
	}
	triple := candidate.TripleKey()
	for _, other := range contracts {
		if other.ContractID == candidate.ContractID || other.TripleKey() != triple {
			continue
		}
		if other.IsEffectivelyActive(now) {
			return types.NewLedgerError(types.KindDuplicateConsent,
				"contract %s already grants %s access for %q", other.ContractID, candidate.ProviderID, candidate.Purpose).
				WithDetail("active_contract_id", other.ContractID)
		}
	}
	return nil
}

// commit appends the transition entry and persists the contract
func (l *Ledger) commit(contract *types.ConsentContract, from types.ContractStatus, event Event, actorID, details string, now time.Time) error {
	l.audit.Chain(contract, auditActionFor(event), actorID, details, now)
	if err := l.store.PutContract(contract); err != nil {
		return fmt.Errorf("failed to store contract %s: %w", contract.ContractID, err)
	}

	l.metrics.RecordConsentTransition(string(contract.Status))
	l.logger.ConsentTransition(contract.ContractID, actorID, string(from), string(contract.Status))
	return nil
}
