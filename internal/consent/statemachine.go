package consent

import "github.com/medrex/consent-ledger/pkg/types"

// Event drives a contract transition
type Event string

const (
	EventApprove Event = "approve"
	EventRevoke  Event = "revoke"
	EventExpire  Event = "expire"
)

var transitions = map[types.ContractStatus]map[Event]types.ContractStatus{
	types.StatusPending: {
		EventApprove: types.StatusActive,
		EventRevoke:  types.StatusRevoked,
	},
	types.StatusActive: {
		EventRevoke: types.StatusRevoked,
		EventExpire: types.StatusExpired,
	},
}

// Transition returns the status reached by applying event to from, or an
// InvalidTransition error when the table has no such edge.
func Transition(from types.ContractStatus, event Event) (types.ContractStatus, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", types.NewLedgerError(types.KindInvalidTransition, "cannot %s a contract in status %s", event, from).
		WithDetail("status", from)
}

// auditActionFor maps an event onto the audit action it records
func auditActionFor(event Event) types.AuditAction {
	switch event {
	case EventApprove:
		return types.ActionApprove
	case EventRevoke:
		return types.ActionRevoke
	default:
		return types.ActionExpire
	}
}
