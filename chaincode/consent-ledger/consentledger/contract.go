// Package consentledger runs the consent ledger as Fabric chaincode. Every
// transaction builds the ledger over that transaction's world state, with the
// clock pinned to the transaction timestamp and contract ids derived from the
// transaction id so all endorsers compute identical write sets.
package consentledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/internal/store/fabric"
	"github.com/medrex/consent-ledger/pkg/service"
	"github.com/medrex/consent-ledger/pkg/types"
)

// SmartContract provides the consent ledger transaction functions
type SmartContract struct {
	contractapi.Contract
}

// offChainRecords stands in for the record store: patient data never lives on
// the channel, so access is decided and logged here and served off-chain.
type offChainRecords struct{}

func (offChainRecords) Get(_ context.Context, patientID string) (*types.PatientRecord, error) {
	return &types.PatientRecord{PatientInfo: types.PatientInfo{ID: patientID}}, nil
}

func (offChainRecords) Put(context.Context, *types.PatientRecord) error {
	return errors.New("patient records are stored off-chain")
}

func (s *SmartContract) ledger(ctx contractapi.TransactionContextInterface) (*service.ConsentLedgerService, error) {
	stub := ctx.GetStub()

	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction timestamp: %v", err)
	}
	now := ts.AsTime().UTC()

	txID := stub.GetTxID()
	issued := 0
	nextID := func() string {
		issued++
		if issued == 1 {
			return "con-" + txID
		}
		return fmt.Sprintf("con-%s-%d", txID, issued)
	}

	return service.NewConsentLedgerService(fabric.NewStore(stub), offChainRecords{}, service.Options{
		Clock:       func() time.Time { return now },
		IDGenerator: nextID,
	}), nil
}

// InitLedger enrolls the demo identities
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.Bootstrap(registry.DemoIdentities())
}

// RegisterIdentity enrolls a new network identity
func (s *SmartContract) RegisterIdentity(ctx contractapi.TransactionContextInterface, id, role, organization, publicKey string) error {
	identity, err := types.NewNetworkIdentity(id, types.Role(role), organization, publicKey)
	if err != nil {
		return err
	}
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.RegisterIdentity(context.Background(), identity)
}

// GetIdentity returns a registered identity
func (s *SmartContract) GetIdentity(ctx contractapi.TransactionContextInterface, id string) (*types.NetworkIdentity, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetIdentity(context.Background(), id)
}

// SuspendIdentity suspends id on behalf of adminID
func (s *SmartContract) SuspendIdentity(ctx contractapi.TransactionContextInterface, adminID, id string) error {
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.SuspendIdentity(context.Background(), adminID, id)
}

// ReinstateIdentity reinstates id on behalf of adminID
func (s *SmartContract) ReinstateIdentity(ctx contractapi.TransactionContextInterface, adminID, id string) error {
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.ReinstateIdentity(context.Background(), adminID, id)
}

// RequestConsent creates a PENDING contract and returns its id. durationDays 0 selects the default.
func (s *SmartContract) RequestConsent(ctx contractapi.TransactionContextInterface, providerID, patientID, purpose string, durationDays int) (string, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return "", err
	}
	return svc.RequestConsent(context.Background(), &types.ConsentRequest{
		ProviderID:   providerID,
		PatientID:    patientID,
		Purpose:      purpose,
		DurationDays: durationDays,
	})
}

// ApproveConsent activates a PENDING contract
func (s *SmartContract) ApproveConsent(ctx contractapi.TransactionContextInterface, contractID, patientID string) error {
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.ApproveConsent(context.Background(), contractID, patientID)
}

// RevokeConsent revokes a PENDING or ACTIVE contract
func (s *SmartContract) RevokeConsent(ctx contractapi.TransactionContextInterface, contractID, patientID string) error {
	svc, err := s.ledger(ctx)
	if err != nil {
		return err
	}
	return svc.RevokeConsent(context.Background(), contractID, patientID)
}

// GetContract returns a contract with its effective status
func (s *SmartContract) GetContract(ctx contractapi.TransactionContextInterface, contractID string) (*types.ConsentContract, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetContract(context.Background(), contractID)
}

// GetContractHistory returns a contract's hash-chained history
func (s *SmartContract) GetContractHistory(ctx contractapi.TransactionContextInterface, contractID string) ([]types.AuditLogEntry, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetContractHistory(context.Background(), contractID)
}

// GetContractsForPatient lists a patient's contracts, newest first
func (s *SmartContract) GetContractsForPatient(ctx contractapi.TransactionContextInterface, patientID string) ([]*types.ConsentContract, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetContractsForPatient(context.Background(), patientID)
}

// GetContractsForProvider lists a provider's contracts, newest first
func (s *SmartContract) GetContractsForProvider(ctx contractapi.TransactionContextInterface, providerID string) ([]*types.ConsentContract, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetContractsForProvider(context.Background(), providerID)
}

// Authorize evaluates the access decision without writing state
func (s *SmartContract) Authorize(ctx contractapi.TransactionContextInterface, providerID, patientID string) (*types.Decision, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	decision := svc.Decide(context.Background(), providerID, patientID)
	return &decision, nil
}

// RecordAccess records an access attempt before the off-chain store releases
// records. A denial is returned as a decision, not an error, so the ALERT it
// appended is committed with the transaction.
func (s *SmartContract) RecordAccess(ctx contractapi.TransactionContextInterface, providerID, patientID string) (*types.Decision, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}

	decision := svc.Decide(context.Background(), providerID, patientID)
	if _, err := svc.AccessRecords(context.Background(), providerID, patientID); err != nil {
		var ledgerErr *types.LedgerError
		if errors.As(err, &ledgerErr) && ledgerErr.Kind == types.KindAccessDenied {
			reason, _ := ledgerErr.Details["reason"].(string)
			return &types.Decision{Allowed: false, Reason: reason}, nil
		}
		return nil, err
	}
	return &decision, nil
}

// GetSecurityLogs returns global audit entries, optionally for one actor
func (s *SmartContract) GetSecurityLogs(ctx contractapi.TransactionContextInterface, actorID string) ([]types.AuditLogEntry, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.GetSecurityLogs(context.Background(), &types.AuditFilter{ActorID: actorID})
}

// VerifyAuditTrail recomputes the global hash chain
func (s *SmartContract) VerifyAuditTrail(ctx contractapi.TransactionContextInterface) (*types.VerificationReport, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return svc.VerifyAuditTrail(context.Background())
}

// ExpireStale persists expiry of lapsed contracts and returns how many changed
func (s *SmartContract) ExpireStale(ctx contractapi.TransactionContextInterface) (int, error) {
	svc, err := s.ledger(ctx)
	if err != nil {
		return 0, err
	}
	return svc.Ledger().ExpireStale()
}
