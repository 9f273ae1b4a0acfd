package types

import "time"

// AuditAction represents the kind of event recorded in the audit trail
type AuditAction string

const (
	ActionRequest     AuditAction = "REQUEST"
	ActionApprove     AuditAction = "APPROVE"
	ActionRevoke      AuditAction = "REVOKE"
	ActionAccess      AuditAction = "ACCESS"
	ActionAlert       AuditAction = "ALERT"
	ActionExpire      AuditAction = "EXPIRE"
	ActionAdminAction AuditAction = "ADMIN_ACTION"
)

// SystemActorID is the actor recorded for time-driven transitions
const SystemActorID = "system"

// ParseAuditAction parses an action name
func ParseAuditAction(s string) (AuditAction, bool) {
	switch a := AuditAction(s); a {
	case ActionRequest, ActionApprove, ActionRevoke, ActionAccess, ActionAlert, ActionExpire, ActionAdminAction:
		return a, true
	}
	return "", false
}

// AuditLogEntry represents an immutable, hash-chained audit event
type AuditLogEntry struct {
	Sequence      uint64      `json:"sequence"`
	Timestamp     time.Time   `json:"timestamp"`
	Action        AuditAction `json:"action"`
	ActorID       string      `json:"actor_id"`
	ContractID    string      `json:"contract_id,omitempty"`
	Details       string      `json:"details,omitempty"`
	PrevHash      string      `json:"prev_hash"`
	IntegrityHash string      `json:"integrity_hash"`
}

// AuditFilter narrows a global audit query. Zero values match everything.
type AuditFilter struct {
	ActorID string        `json:"actor_id,omitempty"`
	Actions []AuditAction `json:"actions,omitempty"`
	Since   time.Time     `json:"since,omitempty"`
	Until   time.Time     `json:"until,omitempty"`
}

// Match reports whether entry satisfies the filter
func (f *AuditFilter) Match(entry AuditLogEntry) bool {
	if f == nil {
		return true
	}
	if f.ActorID != "" && entry.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, action := range f.Actions {
			if entry.Action == action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// VerificationReport describes the outcome of recomputing a hash chain
type VerificationReport struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       uint64 `json:"broken_at,omitempty"`
	Reason         string `json:"reason,omitempty"`
}
