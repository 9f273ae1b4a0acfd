// Package service composes the ledger components into the operation surface
// served by the HTTP APIs and the chaincode.
package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/medrex/consent-ledger/internal/access"
	"github.com/medrex/consent-ledger/internal/audit"
	"github.com/medrex/consent-ledger/internal/consent"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Options configures a ConsentLedgerService. Zero values select the defaults.
type Options struct {
	Clock               types.Clock
	IDGenerator         func() string
	DefaultDurationDays int
	// Detection enables the suspicious activity detector when Threshold > 0
	Detection access.DetectorConfig
	Metrics   *monitoring.MetricsCollector
	Tracing   *monitoring.TracingManager
	Logger    *logger.Logger
}

// ConsentLedgerService implements interfaces.ConsentLedgerService
type ConsentLedgerService struct {
	store    interfaces.LedgerStore
	registry *registry.Registry
	ledger   *consent.Ledger
	audit    *audit.Log
	engine   *access.Engine
	detector *access.Detector
	metrics  *monitoring.MetricsCollector
	tracing  *monitoring.TracingManager
	logger   *logger.Logger
}

var _ interfaces.ConsentLedgerService = (*ConsentLedgerService)(nil)

// NewConsentLedgerService wires the registry, consent ledger, audit log and
// access engine over one state store and one record store.
func NewConsentLedgerService(store interfaces.LedgerStore, records interfaces.RecordStore, opts Options) *ConsentLedgerService {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	clock := opts.Clock
	if clock == nil {
		clock = types.SystemClock
	}

	auditLog := audit.NewLog(store, store, clock, opts.Metrics, log)
	reg := registry.New(store, auditLog, clock, log)
	ledger := consent.NewLedger(store, reg, auditLog, consent.Options{
		Clock:               clock,
		IDGenerator:         opts.IDGenerator,
		DefaultDurationDays: opts.DefaultDurationDays,
		Metrics:             opts.Metrics,
		Logger:              log,
	})

	var detector *access.Detector
	if opts.Detection.Threshold > 0 {
		detector = access.NewDetector(opts.Detection, clock, opts.Metrics, log)
	}

	return &ConsentLedgerService{
		store:    store,
		registry: reg,
		ledger:   ledger,
		audit:    auditLog,
		engine:   access.NewEngine(reg, ledger, auditLog, records, detector, opts.Metrics, log),
		detector: detector,
		metrics:  opts.Metrics,
		tracing:  opts.Tracing,
		logger:   log,
	}
}

// Ledger exposes the consent ledger, e.g. for the expiry sweeper
func (s *ConsentLedgerService) Ledger() *consent.Ledger {
	return s.ledger
}

// Detector returns the suspicious activity detector, or nil when disabled
func (s *ConsentLedgerService) Detector() *access.Detector {
	return s.detector
}

// Bootstrap enrolls identities that are not registered yet
func (s *ConsentLedgerService) Bootstrap(identities []*types.NetworkIdentity) error {
	return s.registry.Bootstrap(identities)
}

func (s *ConsentLedgerService) traced(ctx context.Context, operation string, fn func() error, attrs ...attribute.KeyValue) error {
	_, span := s.tracing.StartLedgerSpan(ctx, operation, attrs...)
	defer span.End()

	err := fn()
	s.tracing.RecordError(span, err)
	if err != nil && types.KindOf(err) == types.KindInternal {
		s.metrics.RecordSystemError("internal", operation)
		s.logger.WithComponent("service").WithError(err).WithField("operation", operation).Error("Ledger operation failed")
	}
	return err
}

// RegisterIdentity enrolls a new network identity
func (s *ConsentLedgerService) RegisterIdentity(ctx context.Context, identity *types.NetworkIdentity) error {
	var attrs []attribute.KeyValue
	if identity != nil {
		attrs = append(attrs, attribute.String("identity.id", identity.ID))
	}
	return s.traced(ctx, "register_identity", func() error {
		return s.registry.Register(identity)
	}, attrs...)
}

// GetIdentity returns a registered identity
func (s *ConsentLedgerService) GetIdentity(ctx context.Context, id string) (*types.NetworkIdentity, error) {
	var identity *types.NetworkIdentity
	err := s.traced(ctx, "get_identity", func() (err error) {
		identity, err = s.registry.Get(id)
		return err
	})
	return identity, err
}

// ListIdentities lists every registered identity sorted by id
func (s *ConsentLedgerService) ListIdentities(ctx context.Context) ([]*types.NetworkIdentity, error) {
	var identities []*types.NetworkIdentity
	err := s.traced(ctx, "list_identities", func() (err error) {
		identities, err = s.registry.List()
		return err
	})
	return identities, err
}

// SuspendIdentity suspends an identity on behalf of an admin
func (s *ConsentLedgerService) SuspendIdentity(ctx context.Context, adminID, id string) error {
	return s.traced(ctx, "suspend_identity", func() error {
		return s.registry.Suspend(adminID, id)
	}, attribute.String("identity.id", id))
}

// ReinstateIdentity reinstates a suspended identity on behalf of an admin
func (s *ConsentLedgerService) ReinstateIdentity(ctx context.Context, adminID, id string) error {
	return s.traced(ctx, "reinstate_identity", func() error {
		return s.registry.Reinstate(adminID, id)
	}, attribute.String("identity.id", id))
}

// RequestConsent creates a PENDING contract for a provider and returns its id
func (s *ConsentLedgerService) RequestConsent(ctx context.Context, req *types.ConsentRequest) (string, error) {
	var attrs []attribute.KeyValue
	if req != nil {
		attrs = append(attrs, attribute.String("provider.id", req.ProviderID), attribute.String("patient.id", req.PatientID))
	}
	var contractID string
	err := s.traced(ctx, "request_consent", func() (err error) {
		contractID, err = s.ledger.RequestConsent(req)
		return err
	}, attrs...)
	return contractID, err
}

// ApproveConsent activates a PENDING contract on behalf of its patient
func (s *ConsentLedgerService) ApproveConsent(ctx context.Context, contractID, patientID string) error {
	return s.traced(ctx, "approve_consent", func() error {
		return s.ledger.ApproveConsent(contractID, patientID)
	}, attribute.String("contract.id", contractID))
}

// RevokeConsent revokes a PENDING or ACTIVE contract on behalf of its patient
func (s *ConsentLedgerService) RevokeConsent(ctx context.Context, contractID, patientID string) error {
	return s.traced(ctx, "revoke_consent", func() error {
		return s.ledger.RevokeConsent(contractID, patientID)
	}, attribute.String("contract.id", contractID))
}

// GetContract returns a contract with its effective status
func (s *ConsentLedgerService) GetContract(ctx context.Context, contractID string) (*types.ConsentContract, error) {
	var contract *types.ConsentContract
	err := s.traced(ctx, "get_contract", func() (err error) {
		contract, err = s.ledger.GetContract(contractID)
		return err
	}, attribute.String("contract.id", contractID))
	return contract, err
}

// GetContractHistory returns a contract's hash-chained history
func (s *ConsentLedgerService) GetContractHistory(ctx context.Context, contractID string) ([]types.AuditLogEntry, error) {
	var history []types.AuditLogEntry
	err := s.traced(ctx, "get_contract_history", func() (err error) {
		history, err = s.audit.QueryForContract(contractID)
		return err
	}, attribute.String("contract.id", contractID))
	return history, err
}

// GetContractsForProvider lists a provider's contracts, newest first
func (s *ConsentLedgerService) GetContractsForProvider(ctx context.Context, providerID string) ([]*types.ConsentContract, error) {
	var contracts []*types.ConsentContract
	err := s.traced(ctx, "contracts_for_provider", func() (err error) {
		contracts, err = s.ledger.GetContractsForProvider(providerID)
		return err
	})
	return contracts, err
}

// GetContractsForPatient lists a patient's contracts, newest first
func (s *ConsentLedgerService) GetContractsForPatient(ctx context.Context, patientID string) ([]*types.ConsentContract, error) {
	var contracts []*types.ConsentContract
	err := s.traced(ctx, "contracts_for_patient", func() (err error) {
		contracts, err = s.ledger.GetContractsForPatient(patientID)
		return err
	})
	return contracts, err
}

// Authorize reports whether the provider may currently read the patient's records
func (s *ConsentLedgerService) Authorize(ctx context.Context, providerID, patientID string) bool {
	return s.Decide(ctx, providerID, patientID).Allowed
}

// Decide evaluates the access predicate and returns the reason
func (s *ConsentLedgerService) Decide(ctx context.Context, providerID, patientID string) types.Decision {
	_, span := s.tracing.StartLedgerSpan(ctx, "authorize",
		attribute.String("provider.id", providerID),
		attribute.String("patient.id", patientID),
	)
	defer span.End()

	decision := s.engine.Decide(providerID, patientID)
	span.SetAttributes(attribute.Bool("access.allowed", decision.Allowed))
	return decision
}

// AccessRecords returns the patient's record if authorized, recording ACCESS or ALERT
func (s *ConsentLedgerService) AccessRecords(ctx context.Context, providerID, patientID string) (*types.PatientRecord, error) {
	var record *types.PatientRecord
	err := s.traced(ctx, "access_records", func() (err error) {
		record, err = s.engine.AccessRecords(ctx, providerID, patientID)
		return err
	}, attribute.String("provider.id", providerID), attribute.String("patient.id", patientID))
	return record, err
}

// GetSecurityLogs queries the global audit log
func (s *ConsentLedgerService) GetSecurityLogs(ctx context.Context, filter *types.AuditFilter) ([]types.AuditLogEntry, error) {
	var entries []types.AuditLogEntry
	err := s.traced(ctx, "security_logs", func() (err error) {
		entries, err = s.audit.Entries(filter)
		return err
	})
	return entries, err
}

// VerifyAuditTrail recomputes the global hash chain
func (s *ConsentLedgerService) VerifyAuditTrail(ctx context.Context) (*types.VerificationReport, error) {
	var report *types.VerificationReport
	err := s.traced(ctx, "verify_audit_trail", func() (err error) {
		report, err = s.audit.VerifyGlobal()
		return err
	})
	if err == nil && !report.Valid {
		s.logger.Security("audit_chain_broken", types.SystemActorID, map[string]interface{}{
			"broken_at": report.BrokenAt,
			"reason":    report.Reason,
		})
	}
	return report, err
}

// Health probes the state store
func (s *ConsentLedgerService) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.store.LastAudit(); err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.NewInternalError("ledger store unavailable", err)
	}
	return nil
}
