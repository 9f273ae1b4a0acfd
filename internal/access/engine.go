// Package access decides whether a provider may read a patient's records and
// enforces that decision on every record access.
package access

import (
	"context"
	"errors"

	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/consent"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const reasonLedgerUnavailable = "ledger state unavailable"

// Engine is the access control engine
type Engine struct {
	registry *registry.Registry
	ledger   *consent.Ledger
	audit    *audit.Log
	records  interfaces.RecordStore
	detector *Detector
	metrics  *monitoring.MetricsCollector
	logger   *logger.Logger
}

// NewEngine creates an access control engine. detector may be nil.
func NewEngine(reg *registry.Registry, ledger *consent.Ledger, auditLog *audit.Log, records interfaces.RecordStore, detector *Detector, metrics *monitoring.MetricsCollector, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		registry: reg,
		ledger:   ledger,
		audit:    auditLog,
		records:  records,
		detector: detector,
		metrics:  metrics,
		logger:   log,
	}
}

// Decide evaluates the access predicate: the provider is registered, ACTIVE
// and holds the provider role, the patient is registered and ACTIVE, and an
// effectively ACTIVE contract exists for the pair. Any lookup failure denies.
func (e *Engine) Decide(providerID, patientID string) types.Decision {
	provider, err := e.registry.Get(providerID)
	if err != nil {
		if errors.Is(err, types.ErrIdentityNotFound) {
			return types.Decision{Reason: types.ReasonUnknownProvider}
		}
		e.logger.WithComponent("access").WithError(err).Error("Identity lookup failed")
		return types.Decision{Reason: reasonLedgerUnavailable}
	}
	if !provider.IsActive() {
		return types.Decision{Reason: types.ReasonProviderSuspended}
	}
	if provider.Role != types.RoleProvider {
		return types.Decision{Reason: types.ReasonNotProvider}
	}

	patient, err := e.registry.Get(patientID)
	if err != nil {
		if errors.Is(err, types.ErrIdentityNotFound) {
			return types.Decision{Reason: types.ReasonUnknownPatient}
		}
		e.logger.WithComponent("access").WithError(err).Error("Identity lookup failed")
		return types.Decision{Reason: reasonLedgerUnavailable}
	}
	if !patient.IsActive() {
		return types.Decision{Reason: types.ReasonPatientSuspended}
	}

	contract, err := e.ledger.FindActive(providerID, patientID)
	if err != nil {
		e.logger.WithComponent("access").WithError(err).Error("Contract lookup failed")
		return types.Decision{Reason: reasonLedgerUnavailable}
	}
	if contract == nil {
		return types.Decision{Reason: types.ReasonNoActiveConsent}
	}
	return types.Decision{Allowed: true, Reason: types.ReasonGranted, ContractID: contract.ContractID}
}

// Authorize reports whether providerID may currently read patientID's records.
// It has no side effects.
func (e *Engine) Authorize(providerID, patientID string) bool {
	return e.Decide(providerID, patientID).Allowed
}

// AccessRecords returns the patient's record when authorized, recording an
// ACCESS entry in the contract's history. A denial appends one ALERT to the
// global log and fails with AccessDenied.
func (e *Engine) AccessRecords(ctx context.Context, providerID, patientID string) (*types.PatientRecord, error) {
	decision := e.Decide(providerID, patientID)
	if !decision.Allowed {
		return nil, e.deny(providerID, patientID, decision.Reason)
	}

	record, err := e.records.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.RecordAccess(decision.ContractID, providerID); err != nil {
		if errors.Is(err, types.ErrAccessDenied) {
			return nil, e.deny(providerID, patientID, types.ReasonNoActiveConsent)
		}
		return nil, err
	}

	e.metrics.RecordAccessDecision(true)
	e.logger.Audit(providerID, string(types.ActionAccess), patientID, true, map[string]interface{}{
		"contract_id": decision.ContractID,
	})
	return record, nil
}

func (e *Engine) deny(providerID, patientID, reason string) error {
	e.metrics.RecordAccessDecision(false)

	details := "Unauthorized access attempt on " + patientID + ": " + reason
	if _, err := e.audit.Append(types.ActionAlert, providerID, "", details); err != nil {
		e.logger.WithComponent("access").WithError(err).Error("Failed to record access alert")
		return err
	}
	if e.detector != nil {
		e.detector.RecordDenial(providerID, patientID, reason)
	}

	return types.NewLedgerError(types.KindAccessDenied, "access denied: %s", reason).
		WithDetail("patient_id", patientID).
		WithDetail("reason", reason)
}
