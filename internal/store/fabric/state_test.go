package fabric

import (
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/pkg/types"
)

func newMockStub(t *testing.T) *shimtest.MockStub {
	t.Helper()
	stub := shimtest.NewMockStub("consent-ledger", nil)
	stub.MockTransactionStart("tx-1")
	t.Cleanup(func() { stub.MockTransactionEnd("tx-1") })
	return stub
}

func TestStore_IdentityRoundTrip(t *testing.T) {
	s := NewStore(newMockStub(t))

	_, err := s.GetIdentity("prov-1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.PutIdentity(&types.NetworkIdentity{ID: "prov-1", Role: types.RoleProvider, Organization: "Clinic", Status: types.IdentityActive}))
	got, err := s.GetIdentity("prov-1")
	require.NoError(t, err)
	assert.Equal(t, "Clinic", got.Organization)

	list, err := s.ListIdentities()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_AuditChainAcrossTransactions(t *testing.T) {
	stub := newMockStub(t)

	first := NewStore(stub)
	require.NoError(t, first.AppendAudit(types.AuditLogEntry{Sequence: 1, Action: types.ActionAlert}))
	require.NoError(t, first.AppendAudit(types.AuditLogEntry{Sequence: 2, Action: types.ActionAlert}))

	second := NewStore(stub)
	last, err := second.LastAudit()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.Sequence)

	assert.Error(t, second.AppendAudit(types.AuditLogEntry{Sequence: 2}))
	require.NoError(t, second.AppendAudit(types.AuditLogEntry{Sequence: 3}))

	entries, err := second.ListAudit()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[2].Sequence)
}

// committedStub mimics a peer: writes are buffered and never visible to reads
// in the same transaction.
type committedStub struct {
	mock.Mock
	puts map[string][]byte
}

func (c *committedStub) GetState(key string) ([]byte, error) {
	args := c.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (c *committedStub) PutState(key string, value []byte) error {
	c.puts[key] = value
	return nil
}

func (c *committedStub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	args := c.Called(startKey, endKey)
	return args.Get(0).(shim.StateQueryIteratorInterface), args.Error(1)
}

type sliceIterator struct {
	results []*queryresult.KV
	index   int
}

func (it *sliceIterator) HasNext() bool { return it.index < len(it.results) }

func (it *sliceIterator) Next() (*queryresult.KV, error) {
	if it.index >= len(it.results) {
		return nil, fmt.Errorf("no more results")
	}
	kv := it.results[it.index]
	it.index++
	return kv, nil
}

func (it *sliceIterator) Close() error { return nil }

func TestStore_ReadsOwnWritesWithinTransaction(t *testing.T) {
	stub := &committedStub{puts: make(map[string][]byte)}
	stub.On("GetState", auditHeadKey).Return(nil, nil)
	stub.On("GetStateByRange", contractPrefix, contractPrefix+rangeEnd).Return(&sliceIterator{
		results: []*queryresult.KV{
			{Key: "contract/con-1", Value: []byte(`{"contract_id":"con-1","status":"PENDING"}`)},
		},
	}, nil)

	s := NewStore(stub)
	require.NoError(t, s.AppendAudit(types.AuditLogEntry{Sequence: 1}))
	require.NoError(t, s.AppendAudit(types.AuditLogEntry{Sequence: 2}))
	stub.AssertNumberOfCalls(t, "GetState", 1)

	require.NoError(t, s.PutContract(&types.ConsentContract{ContractID: "con-1", Status: types.StatusActive}))
	require.NoError(t, s.PutContract(&types.ConsentContract{ContractID: "con-2", Status: types.StatusPending}))

	contracts, err := s.ListContracts()
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, types.StatusActive, contracts[0].Status, "overlay wins over committed state")
	assert.Equal(t, "con-2", contracts[1].ContractID)
}
