// Package fabric adapts Hyperledger Fabric world state to the LedgerStore
// interfaces so the ledger components can run inside chaincode.
package fabric

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/pkg/errors"

	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	identityPrefix = "identity/"
	contractPrefix = "contract/"
	auditPrefix    = "audit/"
	auditHeadKey   = "meta/audit-head"

	// rangeEnd closes a prefix range; '~' sorts after every key character in use
	rangeEnd = "~"
)

// StateStub is the subset of shim.ChaincodeStubInterface the store needs
type StateStub interface {
	GetState(key string) ([]byte, error)
	PutState(key string, value []byte) error
	GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error)
}

// Store keeps ledger state in the world state of one transaction. Fabric does
// not expose a transaction's own writes to later reads, so writes are also
// kept in a local overlay consulted first.
type Store struct {
	stub    StateStub
	written map[string][]byte
}

// NewStore wraps a transaction stub
func NewStore(stub StateStub) *Store {
	return &Store{stub: stub, written: make(map[string][]byte)}
}

// Close is a no-op; the peer owns the state database
func (s *Store) Close() error {
	return nil
}

func auditKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", auditPrefix, seq)
}

func (s *Store) get(key string) ([]byte, error) {
	if data, ok := s.written[key]; ok {
		return data, nil
	}
	data, err := s.stub.GetState(key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s from world state", key)
	}
	return data, nil
}

func (s *Store) put(key string, data []byte) error {
	if err := s.stub.PutState(key, data); err != nil {
		return errors.Wrapf(err, "failed to write %s to world state", key)
	}
	s.written[key] = data
	return nil
}

func (s *Store) getJSON(key string, out interface{}) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return types.ErrNotFound
	}
	return errors.Wrapf(json.Unmarshal(data, out), "failed to decode %s", key)
}

func (s *Store) putJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	return s.put(key, data)
}

// scanRaw merges committed state under prefix with this transaction's writes
func (s *Store) scanRaw(prefix string) ([][]byte, error) {
	iter, err := s.stub.GetStateByRange(prefix, prefix+rangeEnd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query range %s", prefix)
	}
	defer iter.Close()

	values := make(map[string][]byte)
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to iterate range %s", prefix)
		}
		values[kv.Key] = kv.Value
	}
	for key, data := range s.written {
		if strings.HasPrefix(key, prefix) {
			values[key] = data
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, key := range keys {
		out = append(out, values[key])
	}
	return out, nil
}

func scan[T any](s *Store, prefix string) ([]T, error) {
	raw, err := s.scanRaw(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrapf(err, "failed to decode state under %s", prefix)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) GetIdentity(id string) (*types.NetworkIdentity, error) {
	var identity types.NetworkIdentity
	if err := s.getJSON(identityPrefix+id, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *Store) PutIdentity(identity *types.NetworkIdentity) error {
	return s.putJSON(identityPrefix+identity.ID, identity)
}

func (s *Store) ListIdentities() ([]*types.NetworkIdentity, error) {
	return scan[*types.NetworkIdentity](s, identityPrefix)
}

func (s *Store) GetContract(contractID string) (*types.ConsentContract, error) {
	var contract types.ConsentContract
	if err := s.getJSON(contractPrefix+contractID, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

func (s *Store) PutContract(contract *types.ConsentContract) error {
	return s.putJSON(contractPrefix+contract.ContractID, contract)
}

func (s *Store) ListContracts() ([]*types.ConsentContract, error) {
	return scan[*types.ConsentContract](s, contractPrefix)
}

func (s *Store) AppendAudit(entry types.AuditLogEntry) error {
	head, err := s.auditHead()
	if err != nil {
		return err
	}
	if entry.Sequence != head+1 {
		return errors.Errorf("audit sequence %d does not follow head %d", entry.Sequence, head)
	}
	if err := s.putJSON(auditKey(entry.Sequence), entry); err != nil {
		return err
	}
	return s.put(auditHeadKey, []byte(strconv.FormatUint(entry.Sequence, 10)))
}

func (s *Store) ListAudit() ([]types.AuditLogEntry, error) {
	return scan[types.AuditLogEntry](s, auditPrefix)
}

func (s *Store) LastAudit() (*types.AuditLogEntry, error) {
	head, err := s.auditHead()
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, types.ErrNotFound
	}
	var entry types.AuditLogEntry
	if err := s.getJSON(auditKey(head), &entry); err != nil {
		return nil, errors.Wrapf(err, "audit head %d unreadable", head)
	}
	return &entry, nil
}

func (s *Store) auditHead() (uint64, error) {
	data, err := s.get(auditHeadKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	head, err := strconv.ParseUint(string(data), 10, 64)
	return head, errors.Wrap(err, "corrupt audit head")
}
