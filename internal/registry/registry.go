// Package registry manages the network identities allowed to act on the ledger.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/keylock"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Registry is the identity registry
type Registry struct {
	store  interfaces.IdentityStore
	audit  *audit.Log
	locks  *keylock.KeyLock
	clock  types.Clock
	logger *logger.Logger
}

// New creates a registry
func New(store interfaces.IdentityStore, auditLog *audit.Log, clock types.Clock, log *logger.Logger) *Registry {
	if clock == nil {
		clock = types.SystemClock
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		store:  store,
		audit:  auditLog,
		locks:  keylock.New(),
		clock:  clock,
		logger: log,
	}
}

// Register enrolls a new identity and records an ADMIN_ACTION entry
func (r *Registry) Register(identity *types.NetworkIdentity) error {
	if identity == nil {
		return types.NewValidationError("identity", "is required")
	}
	if err := identity.Validate(); err != nil {
		return err
	}

	unlock := r.locks.Lock(identity.ID)
	defer unlock()

	if _, err := r.store.GetIdentity(identity.ID); err == nil {
		return types.NewLedgerError(types.KindDuplicateIdentity, "identity %s already registered", identity.ID)
	} else if !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("failed to look up identity %s: %w", identity.ID, err)
	}

	enrolled := identity.Clone()
	if enrolled.EnrolledAt.IsZero() {
		enrolled.EnrolledAt = r.clock()
	}

	// Every stored identity has its enrollment entry
	entry, err := r.audit.Append(types.ActionAdminAction, enrolled.ID, "", "enrolled "+enrolled.ID)
	if err != nil {
		return err
	}
	if err := r.store.PutIdentity(enrolled); err != nil {
		return types.NewInternalError(
			fmt.Sprintf("audit entry %d records enrollment of %s but the identity was not stored", entry.Sequence, enrolled.ID), err)
	}

	r.logger.WithComponent("registry").WithFields(map[string]interface{}{
		"identity_id":  enrolled.ID,
		"role":         enrolled.Role,
		"organization": enrolled.Organization,
	}).Info("Identity enrolled")
	return nil
}

// Bootstrap registers seed identities, skipping ids that already exist
func (r *Registry) Bootstrap(identities []*types.NetworkIdentity) error {
	for _, identity := range identities {
		err := r.Register(identity)
		if err != nil && !errors.Is(err, types.ErrDuplicateIdentity) {
			return fmt.Errorf("failed to bootstrap identity %s: %w", identity.ID, err)
		}
	}
	return nil
}

// Get returns the identity with the given id
func (r *Registry) Get(id string) (*types.NetworkIdentity, error) {
	identity, err := r.store.GetIdentity(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NewLedgerError(types.KindIdentityNotFound, "identity %s not found", id)
		}
		return nil, fmt.Errorf("failed to load identity %s: %w", id, err)
	}
	return identity, nil
}

// List returns every identity ordered by id
func (r *Registry) List() ([]*types.NetworkIdentity, error) {
	identities, err := r.store.ListIdentities()
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].ID < identities[j].ID
	})
	return identities, nil
}

// IsActive reports whether id exists and is ACTIVE. It reads the store on
// every call so a suspension takes effect immediately.
func (r *Registry) IsActive(id string) bool {
	identity, err := r.store.GetIdentity(id)
	if err != nil {
		return false
	}
	return identity.IsActive()
}

// RequireActive returns the identity or the error explaining why it may not act
func (r *Registry) RequireActive(id string) (*types.NetworkIdentity, error) {
	identity, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive() {
		return nil, types.NewLedgerError(types.KindIdentitySuspended, "identity %s is suspended", id)
	}
	return identity, nil
}

// Suspend marks id SUSPENDED. Suspending a suspended identity succeeds and
// still records one ADMIN_ACTION entry.
func (r *Registry) Suspend(adminID, id string) error {
	return r.setStatus(adminID, id, types.IdentitySuspended, "suspended")
}

// Reinstate marks id ACTIVE again
func (r *Registry) Reinstate(adminID, id string) error {
	return r.setStatus(adminID, id, types.IdentityActive, "reinstated")
}

func (r *Registry) setStatus(adminID, id string, status types.IdentityStatus, verb string) error {
	if err := r.requireAdmin(adminID); err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	identity, err := r.Get(id)
	if err != nil {
		return err
	}

	entry, err := r.audit.Append(types.ActionAdminAction, adminID, "", verb+" "+id)
	if err != nil {
		return err
	}

	previous := identity.Status
	if previous != status {
		identity.Status = status
		if err := r.store.PutIdentity(identity); err != nil {
			return types.NewInternalError(
				fmt.Sprintf("audit entry %d records %s %s but the identity was not stored", entry.Sequence, verb, id), err)
		}
	}

	r.logger.Security("identity_"+verb, adminID, map[string]interface{}{
		"identity_id": id,
		"from":        previous,
		"to":          status,
	})
	return nil
}

func (r *Registry) requireAdmin(adminID string) error {
	admin, err := r.RequireActive(adminID)
	if err != nil {
		return err
	}
	if admin.Role != types.RoleAdmin {
		return types.NewLedgerError(types.KindNotAuthorized, "identity %s is not an administrator", adminID)
	}
	return nil
}
