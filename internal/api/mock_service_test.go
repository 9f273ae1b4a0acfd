package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/medrex/consent-ledger/pkg/types"
)

// MockLedgerService is a testify mock of interfaces.ConsentLedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) RegisterIdentity(ctx context.Context, identity *types.NetworkIdentity) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *MockLedgerService) GetIdentity(ctx context.Context, id string) (*types.NetworkIdentity, error) {
	args := m.Called(ctx, id)
	identity, _ := args.Get(0).(*types.NetworkIdentity)
	return identity, args.Error(1)
}

func (m *MockLedgerService) ListIdentities(ctx context.Context) ([]*types.NetworkIdentity, error) {
	args := m.Called(ctx)
	identities, _ := args.Get(0).([]*types.NetworkIdentity)
	return identities, args.Error(1)
}

func (m *MockLedgerService) SuspendIdentity(ctx context.Context, adminID, id string) error {
	return m.Called(ctx, adminID, id).Error(0)
}

func (m *MockLedgerService) ReinstateIdentity(ctx context.Context, adminID, id string) error {
	return m.Called(ctx, adminID, id).Error(0)
}

func (m *MockLedgerService) RequestConsent(ctx context.Context, req *types.ConsentRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerService) ApproveConsent(ctx context.Context, contractID, patientID string) error {
	return m.Called(ctx, contractID, patientID).Error(0)
}

func (m *MockLedgerService) RevokeConsent(ctx context.Context, contractID, patientID string) error {
	return m.Called(ctx, contractID, patientID).Error(0)
}

func (m *MockLedgerService) GetContract(ctx context.Context, contractID string) (*types.ConsentContract, error) {
	args := m.Called(ctx, contractID)
	contract, _ := args.Get(0).(*types.ConsentContract)
	return contract, args.Error(1)
}

func (m *MockLedgerService) GetContractHistory(ctx context.Context, contractID string) ([]types.AuditLogEntry, error) {
	args := m.Called(ctx, contractID)
	history, _ := args.Get(0).([]types.AuditLogEntry)
	return history, args.Error(1)
}

func (m *MockLedgerService) GetContractsForProvider(ctx context.Context, providerID string) ([]*types.ConsentContract, error) {
	args := m.Called(ctx, providerID)
	contracts, _ := args.Get(0).([]*types.ConsentContract)
	return contracts, args.Error(1)
}

func (m *MockLedgerService) GetContractsForPatient(ctx context.Context, patientID string) ([]*types.ConsentContract, error) {
	args := m.Called(ctx, patientID)
	contracts, _ := args.Get(0).([]*types.ConsentContract)
	return contracts, args.Error(1)
}

func (m *MockLedgerService) Authorize(ctx context.Context, providerID, patientID string) bool {
	return m.Called(ctx, providerID, patientID).Bool(0)
}

func (m *MockLedgerService) Decide(ctx context.Context, providerID, patientID string) types.Decision {
	return m.Called(ctx, providerID, patientID).Get(0).(types.Decision)
}

func (m *MockLedgerService) AccessRecords(ctx context.Context, providerID, patientID string) (*types.PatientRecord, error) {
	args := m.Called(ctx, providerID, patientID)
	record, _ := args.Get(0).(*types.PatientRecord)
	return record, args.Error(1)
}

func (m *MockLedgerService) GetSecurityLogs(ctx context.Context, filter *types.AuditFilter) ([]types.AuditLogEntry, error) {
	args := m.Called(ctx, filter)
	entries, _ := args.Get(0).([]types.AuditLogEntry)
	return entries, args.Error(1)
}

func (m *MockLedgerService) VerifyAuditTrail(ctx context.Context) (*types.VerificationReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*types.VerificationReport)
	return report, args.Error(1)
}

func (m *MockLedgerService) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
