package interfaces

import (
	"context"

	"github.com/medrex/consent-ledger/pkg/types"
)

// IdentityStore persists network identities. Missing keys return types.ErrNotFound.
type IdentityStore interface {
	GetIdentity(id string) (*types.NetworkIdentity, error)
	PutIdentity(identity *types.NetworkIdentity) error
	ListIdentities() ([]*types.NetworkIdentity, error)
}

// ContractStore persists consent contracts together with their history.
// Missing keys return types.ErrNotFound.
type ContractStore interface {
	GetContract(contractID string) (*types.ConsentContract, error)
	PutContract(contract *types.ConsentContract) error
	ListContracts() ([]*types.ConsentContract, error)
}

// AuditStore persists the global security log in sequence order
type AuditStore interface {
	AppendAudit(entry types.AuditLogEntry) error
	ListAudit() ([]types.AuditLogEntry, error)
	// LastAudit returns types.ErrNotFound when the log is empty
	LastAudit() (*types.AuditLogEntry, error)
}

// LedgerStore is the full state backend used by the ledger components
type LedgerStore interface {
	IdentityStore
	ContractStore
	AuditStore
	Close() error
}

// RecordStore is the off-ledger patient record store
type RecordStore interface {
	// Get returns types.ErrRecordsNotFound when the patient has no record
	Get(ctx context.Context, patientID string) (*types.PatientRecord, error)
	Put(ctx context.Context, record *types.PatientRecord) error
}

// ConsentLedgerService defines the operation surface exposed to transports
type ConsentLedgerService interface {
	// Identity registry
	RegisterIdentity(ctx context.Context, identity *types.NetworkIdentity) error
	GetIdentity(ctx context.Context, id string) (*types.NetworkIdentity, error)
	ListIdentities(ctx context.Context) ([]*types.NetworkIdentity, error)
	SuspendIdentity(ctx context.Context, adminID, id string) error
	ReinstateIdentity(ctx context.Context, adminID, id string) error

	// Consent lifecycle
	RequestConsent(ctx context.Context, req *types.ConsentRequest) (string, error)
	ApproveConsent(ctx context.Context, contractID, patientID string) error
	RevokeConsent(ctx context.Context, contractID, patientID string) error
	GetContract(ctx context.Context, contractID string) (*types.ConsentContract, error)
	GetContractHistory(ctx context.Context, contractID string) ([]types.AuditLogEntry, error)
	GetContractsForProvider(ctx context.Context, providerID string) ([]*types.ConsentContract, error)
	GetContractsForPatient(ctx context.Context, patientID string) ([]*types.ConsentContract, error)

	// Access control
	Authorize(ctx context.Context, providerID, patientID string) bool
	Decide(ctx context.Context, providerID, patientID string) types.Decision
	AccessRecords(ctx context.Context, providerID, patientID string) (*types.PatientRecord, error)

	// Audit
	GetSecurityLogs(ctx context.Context, filter *types.AuditFilter) ([]types.AuditLogEntry, error)
	VerifyAuditTrail(ctx context.Context) (*types.VerificationReport, error)

	Health(ctx context.Context) error
}
