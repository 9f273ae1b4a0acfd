// Package memory is a thread-safe in-process LedgerStore.
package memory

import (
	"sync"

	"github.com/medrex/consent-ledger/pkg/types"
)

// Store keeps ledger state in maps guarded by a single RWMutex.
// Values are copied on the way in and out.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*types.NetworkIdentity
	contracts  map[string]*types.ConsentContract
	audit      []types.AuditLogEntry
}

// New creates an empty store
func New() *Store {
	return &Store{
		identities: make(map[string]*types.NetworkIdentity),
		contracts:  make(map[string]*types.ConsentContract),
	}
}

func (s *Store) GetIdentity(id string) (*types.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return identity.Clone(), nil
}

func (s *Store) PutIdentity(identity *types.NetworkIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[identity.ID] = identity.Clone()
	return nil
}

func (s *Store) ListIdentities() ([]*types.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.NetworkIdentity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity.Clone())
	}
	return out, nil
}

func (s *Store) GetContract(contractID string) (*types.ConsentContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[contractID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return contract.Clone(), nil
}

func (s *Store) PutContract(contract *types.ConsentContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contracts[contract.ContractID] = contract.Clone()
	return nil
}

func (s *Store) ListContracts() ([]*types.ConsentContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.ConsentContract, 0, len(s.contracts))
	for _, contract := range s.contracts {
		out = append(out, contract.Clone())
	}
	return out, nil
}

func (s *Store) AppendAudit(entry types.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAudit() ([]types.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.AuditLogEntry, len(s.audit))
	copy(out, s.audit)
	return out, nil
}

func (s *Store) LastAudit() (*types.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.audit) == 0 {
		return nil, types.ErrNotFound
	}
	last := s.audit[len(s.audit)-1]
	return &last, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
