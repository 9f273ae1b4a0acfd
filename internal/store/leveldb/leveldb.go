// Package leveldb is a LedgerStore persisted in a LevelDB database.
//
// Key layout:
//
//	identity/<id>         JSON NetworkIdentity
//	contract/<id>         JSON ConsentContract, history included
//	audit/<seq, 20 digits> JSON AuditLogEntry
//	meta/audit-head       sequence of the last audit entry
package leveldb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	identityPrefix = "identity/"
	contractPrefix = "contract/"
	auditPrefix    = "audit/"
	auditHeadKey   = "meta/audit-head"
)

// Store persists ledger state in LevelDB
type Store struct {
	db *leveldb.DB

	// guards the audit head so appends stay contiguous
	auditMu sync.Mutex
}

// Open opens or creates a database at path
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return &Store{db: db}, nil
}

// OpenStorage opens a database on an explicit storage, e.g. storage.NewMemStorage()
func OpenStorage(stor storage.Storage) (*Store, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open leveldb storage")
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func auditKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", auditPrefix, seq))
}

func (s *Store) getJSON(key string, out interface{}) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return types.ErrNotFound
		}
		return errors.Wrapf(err, "failed to read %s", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s", key)
	}
	return nil
}

func (s *Store) putJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	return errors.Wrapf(s.db.Put([]byte(key), data, nil), "failed to write %s", key)
}

// scan decodes every value under prefix in key order
func scan[T any](db *leveldb.DB, prefix string) ([]T, error) {
	iter := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []T
	for iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", iter.Key())
		}
		out = append(out, v)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", prefix)
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
	return scan[*types.NetworkIdentity](s.db, identityPrefix)
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
	return scan[*types.ConsentContract](s.db, contractPrefix)
}

// AppendAudit writes the entry and advances the head in one batch
func (s *Store) AppendAudit(entry types.AuditLogEntry) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	head, err := s.auditHead()
	if err != nil {
		return err
	}
	if entry.Sequence != head+1 {
		return errors.Errorf("audit sequence %d does not follow head %d", entry.Sequence, head)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode audit entry")
	}

	batch := new(leveldb.Batch)
	batch.Put(auditKey(entry.Sequence), data)
	batch.Put([]byte(auditHeadKey), []byte(strconv.FormatUint(entry.Sequence, 10)))
	return errors.Wrap(s.db.Write(batch, nil), "failed to write audit entry")
}

func (s *Store) ListAudit() ([]types.AuditLogEntry, error) {
	return scan[types.AuditLogEntry](s.db, auditPrefix)
}

func (s *Store) LastAudit() (*types.AuditLogEntry, error) {
	s.auditMu.Lock()
	head, err := s.auditHead()
	s.auditMu.Unlock()
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, types.ErrNotFound
	}

	data, err := s.db.Get(auditKey(head), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "audit head %d missing", head)
	}
	var entry types.AuditLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode audit head")
	}
	return &entry, nil
}

func (s *Store) auditHead() (uint64, error) {
	data, err := s.db.Get([]byte(auditHeadKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read audit head")
	}
	head, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "corrupt audit head")
	}
	return head, nil
}

// Health reports whether the database can serve reads
func (s *Store) Health() error {
	_, err := s.db.GetProperty("leveldb.stats")
	return errors.Wrap(err, "leveldb unavailable")
}
