// Package audit maintains the hash-chained audit trail: the global security
// log and the per-contract histories.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Log appends to and queries the audit trail
type Log struct {
	store     interfaces.AuditStore
	contracts interfaces.ContractStore
	clock     types.Clock
	metrics   *monitoring.MetricsCollector
	logger    *logger.Logger

	// serializes global appends so sequence and prevHash stay consistent
	mu sync.Mutex
}

// NewLog creates an audit log over the given stores
func NewLog(store interfaces.AuditStore, contracts interfaces.ContractStore, clock types.Clock, metrics *monitoring.MetricsCollector, log *logger.Logger) *Log {
	if clock == nil {
		clock = types.SystemClock
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Log{
		store:     store,
		contracts: contracts,
		clock:     clock,
		metrics:   metrics,
		logger:    log,
	}
}

// Append seals a new entry onto the global security log
func (l *Log) Append(action types.AuditAction, actorID, contractID, details string) (types.AuditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := l.store.LastAudit()
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.AuditLogEntry{}, fmt.Errorf("failed to read audit head: %w", err)
	}

	entry := Seal(last, types.AuditLogEntry{
		Timestamp:  l.clock(),
		Action:     action,
		ActorID:    actorID,
		ContractID: contractID,
		Details:    details,
	})
	if err := l.store.AppendAudit(entry); err != nil {
		return types.AuditLogEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	l.metrics.RecordAuditEntry(string(action))
	if action == types.ActionAlert {
		l.metrics.RecordSecurityAlert()
	}
	l.logger.Audit(actorID, string(action), contractID, action != types.ActionAlert, map[string]interface{}{
		"sequence": entry.Sequence,
		"details":  details,
	})
	return entry, nil
}

// Chain seals a new entry onto contract's own history. The caller persists
// the contract in the same operation.
func (l *Log) Chain(contract *types.ConsentContract, action types.AuditAction, actorID, details string, at time.Time) types.AuditLogEntry {
	var prev *types.AuditLogEntry
	if n := len(contract.History); n > 0 {
		prev = &contract.History[n-1]
	}

	entry := Seal(prev, types.AuditLogEntry{
		Timestamp:  at,
		Action:     action,
		ActorID:    actorID,
		ContractID: contract.ContractID,
		Details:    details,
	})
	contract.History = append(contract.History, entry)

	l.metrics.RecordAuditEntry(string(action))
	return entry
}

// QueryGlobal iterates the security log in sequence order. Each range takes
// a fresh snapshot, so the sequence may be iterated more than once.
func (l *Log) QueryGlobal(filter *types.AuditFilter) iter.Seq[types.AuditLogEntry] {
	return func(yield func(types.AuditLogEntry) bool) {
		entries, err := l.store.ListAudit()
		if err != nil {
			l.logger.WithComponent("audit").WithError(err).Error("Failed to list audit entries")
			return
		}
		for _, entry := range entries {
			if !filter.Match(entry) {
				continue
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// Entries collects the filtered security log, reporting store failures
func (l *Log) Entries(filter *types.AuditFilter) ([]types.AuditLogEntry, error) {
	entries, err := l.store.ListAudit()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	out := make([]types.AuditLogEntry, 0, len(entries))
	for _, entry := range entries {
		if filter.Match(entry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// QueryForContract returns the contract's full history
func (l *Log) QueryForContract(contractID string) ([]types.AuditLogEntry, error) {
	contract, err := l.contracts.GetContract(contractID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NewLedgerError(types.KindContractNotFound, "contract %s not found", contractID)
		}
		return nil, fmt.Errorf("failed to load contract %s: %w", contractID, err)
	}
	return contract.History, nil
}

// VerifyGlobal recomputes the security log chain
func (l *Log) VerifyGlobal() (*types.VerificationReport, error) {
	entries, err := l.store.ListAudit()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return Verify(entries), nil
}

// VerifyContract recomputes a contract history chain
func (l *Log) VerifyContract(contractID string) (*types.VerificationReport, error) {
	history, err := l.QueryForContract(contractID)
	if err != nil {
		return nil, err
	}
	return Verify(history), nil
}

// Seal assigns sequence, prevHash and integrityHash to entry given the
// previous entry of the same chain (nil for the first).
func Seal(prev *types.AuditLogEntry, entry types.AuditLogEntry) types.AuditLogEntry {
	entry.Sequence = 1
	entry.PrevHash = ""
	if prev != nil {
		entry.Sequence = prev.Sequence + 1
		entry.PrevHash = prev.IntegrityHash
	}
	entry.IntegrityHash = ComputeHash(entry)
	return entry
}

// ComputeHash returns hex(sha256) over the pipe-joined entry fields
func ComputeHash(entry types.AuditLogEntry) string {
	input := strconv.FormatUint(entry.Sequence, 10) + "|" +
		entry.Timestamp.UTC().Format(time.RFC3339Nano) + "|" +
		string(entry.Action) + "|" +
		entry.ActorID + "|" +
		entry.ContractID + "|" +
		entry.Details + "|" +
		entry.PrevHash
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Verify walks a chain and reports the first entry whose sequence, link or
// hash does not match.
func Verify(entries []types.AuditLogEntry) *types.VerificationReport {
	report := &types.VerificationReport{Valid: true}

	prevHash := ""
	for i, entry := range entries {
		report.EntriesChecked++

		switch {
		case entry.Sequence != uint64(i+1):
			report.Reason = fmt.Sprintf("expected sequence %d, found %d", i+1, entry.Sequence)
		case entry.PrevHash != prevHash:
			report.Reason = "previous hash does not link to the preceding entry"
		case entry.IntegrityHash != ComputeHash(entry):
			report.Reason = "integrity hash mismatch"
		default:
			prevHash = entry.IntegrityHash
			continue
		}

		report.Valid = false
		report.BrokenAt = entry.Sequence
		return report
	}
	return report
}
