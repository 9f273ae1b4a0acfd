package types

import (
	"strings"
	"time"
)

// Role represents the role a participant holds on the consortium network
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// ParseRole parses a role name. "doctor" is accepted as a provider alias.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return RolePatient, true
	case "provider", "doctor":
		return RoleProvider, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// IdentityStatus represents whether an identity may act on the ledger
type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "ACTIVE"
	IdentitySuspended IdentityStatus = "SUSPENDED"
)

// NetworkIdentity represents a registered network participant
type NetworkIdentity struct {
	ID           string         `json:"id"`
	Role         Role           `json:"role"`
	Organization string         `json:"organization"`
	PublicKey    string         `json:"public_key"`
	Status       IdentityStatus `json:"status"`
	EnrolledAt   time.Time      `json:"enrolled_at"`
}

// NewNetworkIdentity creates an ACTIVE identity after validating its fields
func NewNetworkIdentity(id string, role Role, organization, publicKey string) (*NetworkIdentity, error) {
	if parsed, ok := ParseRole(string(role)); ok {
		role = parsed
	}
	identity := &NetworkIdentity{
		ID:           strings.TrimSpace(id),
		Role:         role,
		Organization: strings.TrimSpace(organization),
		PublicKey:    publicKey,
		Status:       IdentityActive,
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	return identity, nil
}

// Validate checks required fields
func (i *NetworkIdentity) Validate() error {
	if i.ID == "" {
		return NewValidationError("id", "is required")
	}
	switch i.Role {
	case RolePatient, RoleProvider, RoleAdmin:
	default:
		return NewValidationError("role", "must be one of patient, provider, admin")
	}
	if i.Organization == "" {
		return NewValidationError("organization", "is required")
	}
	switch i.Status {
	case IdentityActive, IdentitySuspended:
	default:
		return NewValidationError("status", "must be ACTIVE or SUSPENDED")
	}
	return nil
}

// IsActive reports whether the identity is ACTIVE
func (i *NetworkIdentity) IsActive() bool {
	return i.Status == IdentityActive
}

// Clone returns a copy of the identity
func (i *NetworkIdentity) Clone() *NetworkIdentity {
	c := *i
	return &c
}
