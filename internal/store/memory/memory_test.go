package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/types"
)

var _ interfaces.LedgerStore = (*Store)(nil)

func TestStore_ContractsAreCopied(t *testing.T) {
	s := New()
	contract := &types.ConsentContract{
		ContractID: "con-1",
		Status:     types.StatusPending,
		History:    []types.AuditLogEntry{{Sequence: 1, Action: types.ActionRequest}},
	}
	require.NoError(t, s.PutContract(contract))

	contract.Status = types.StatusActive
	contract.History[0].Action = types.ActionAlert

	got, err := s.GetContract("con-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, types.ActionRequest, got.History[0].Action)

	got.History = append(got.History, types.AuditLogEntry{Sequence: 2})
	again, err := s.GetContract("con-1")
	require.NoError(t, err)
	assert.Len(t, again.History, 1)
}

func TestStore_NotFound(t *testing.T) {
	s := New()

	_, err := s.GetIdentity("nobody")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetContract("con-missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.LastAudit()
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStore_AuditOrder(t *testing.T) {
	s := New()
	now := time.Now()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AppendAudit(types.AuditLogEntry{Sequence: i, Timestamp: now}))
	}

	entries, err := s.ListAudit()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Sequence)

	last, err := s.LastAudit()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Sequence)
}
