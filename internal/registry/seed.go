package registry

import "github.com/medrex/consent-ledger/pkg/types"

// Demo identity ids used by the bundled seed data
const (
	DemoPatientID  = "patient-123"
	DemoProviderID = "provider-789"
	DemoAdminID    = "admin-001"
)

// DemoIdentities returns the seed identities enrolled on a fresh demo ledger
func DemoIdentities() []*types.NetworkIdentity {
	return []*types.NetworkIdentity{
		{ID: DemoPatientID, Role: types.RolePatient, Organization: "Patients", PublicKey: "demo-key-patient", Status: types.IdentityActive},
		{ID: DemoProviderID, Role: types.RoleProvider, Organization: "General Hospital", PublicKey: "demo-key-provider", Status: types.IdentityActive},
		{ID: DemoAdminID, Role: types.RoleAdmin, Organization: "Consortium", PublicKey: "demo-key-admin", Status: types.IdentityActive},
	}
}
