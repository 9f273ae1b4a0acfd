package types

// Decision is the outcome of an access control check
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
	ContractID string `json:"contract_id,omitempty"`
}

// Denial reasons reported by the access control engine
const (
	ReasonGranted           = "active consent"
	ReasonUnknownProvider   = "provider identity not registered"
	ReasonProviderSuspended = "provider identity is suspended"
	ReasonNotProvider       = "requester does not hold the provider role"
	ReasonUnknownPatient    = "patient identity not registered"
	ReasonPatientSuspended  = "patient identity is suspended"
	ReasonNoActiveConsent   = "no active consent contract found on the ledger"
)
