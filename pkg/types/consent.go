package types

import (
	"strings"
	"time"
)

// ContractStatus represents the lifecycle state of a consent contract
type ContractStatus string

const (
	StatusPending ContractStatus = "PENDING"
	StatusActive  ContractStatus = "ACTIVE"
	StatusRevoked ContractStatus = "REVOKED"
	StatusExpired ContractStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition can leave the status
func (s ContractStatus) IsTerminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// DefaultDurationDays is the consent duration used when a request omits one
const DefaultDurationDays = 30

// MaxDurationDays bounds a single consent grant
const MaxDurationDays = 3650

// ConsentContract represents a record authorizing a provider to access a
// patient's data for a stated purpose, for a bounded time
type ConsentContract struct {
	ContractID   string          `json:"contract_id"`
	PatientID    string          `json:"patient_id"`
	ProviderID   string          `json:"provider_id"`
	Purpose      string          `json:"purpose"`
	Status       ContractStatus  `json:"status"`
	DurationDays int             `json:"duration_days"`
	CreatedAt    time.Time       `json:"created_at"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	History      []AuditLogEntry `json:"history"`
}

// EffectiveStatus applies time-based expiry. An ACTIVE contract is EXPIRED
// once now >= ExpiresAt, whatever its stored status says.
func (c *ConsentContract) EffectiveStatus(now time.Time) ContractStatus {
	if c.Status == StatusActive && c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}

// IsEffectivelyActive reports whether the contract authorizes access at now
func (c *ConsentContract) IsEffectivelyActive(now time.Time) bool {
	return c.EffectiveStatus(now) == StatusActive
}

// Clone returns a deep copy of the contract
func (c *ConsentContract) Clone() *ConsentContract {
	clone := *c
	if c.ApprovedAt != nil {
		t := *c.ApprovedAt
		clone.ApprovedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		clone.ExpiresAt = &t
	}
	clone.History = make([]AuditLogEntry, len(c.History))
	copy(clone.History, c.History)
	return &clone
}

// LastHash returns the integrity hash of the newest history entry
func (c *ConsentContract) LastHash() string {
	if len(c.History) == 0 {
		return ""
	}
	return c.History[len(c.History)-1].IntegrityHash
}

// TripleKey identifies the (patient, provider, purpose) pair that may hold
// at most one active contract
func (c *ConsentContract) TripleKey() string {
	return TripleKey(c.PatientID, c.ProviderID, c.Purpose)
}

// TripleKey builds the (patient, provider, purpose) key
func TripleKey(patientID, providerID, purpose string) string {
	return patientID + "|" + providerID + "|" + strings.ToLower(purpose)
}

// ConsentRequest represents a provider's request for consent
type ConsentRequest struct {
	ProviderID   string `json:"provider_id" binding:"required"`
	PatientID    string `json:"patient_id" binding:"required"`
	Purpose      string `json:"purpose" binding:"required"`
	DurationDays int    `json:"duration_days,omitempty"`
}

// Normalize trims fields and applies the default duration
func (r *ConsentRequest) Normalize(defaultDays int) {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.Purpose = strings.TrimSpace(r.Purpose)
	if r.DurationDays == 0 {
		r.DurationDays = defaultDays
	}
}

// Validate checks required fields
func (r *ConsentRequest) Validate() error {
	if r.ProviderID == "" {
		return NewValidationError("provider_id", "is required")
	}
	if r.PatientID == "" {
		return NewValidationError("patient_id", "is required")
	}
	if r.Purpose == "" {
		return NewValidationError("purpose", "is required")
	}
	if r.DurationDays < 1 || r.DurationDays > MaxDurationDays {
		return NewValidationError("duration_days", "must be between 1 and 3650")
	}
	if r.ProviderID == r.PatientID {
		return NewValidationError("provider_id", "must differ from patient_id")
	}
	return nil
}
