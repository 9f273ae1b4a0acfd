package api

import (
	"errors"
	"net/http"

	"github.com/medrex/consent-ledger/pkg/types"
)

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error   types.ErrorKind        `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindIdentityNotFound, types.KindContractNotFound, types.KindRecordsNotFound:
		return http.StatusNotFound
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotAuthorized, types.KindIdentitySuspended, types.KindAccessDenied:
		return http.StatusForbidden
	case types.KindInvalidTransition, types.KindDuplicateIdentity, types.KindDuplicateConsent:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse converts err into a status and body. Internal causes are not exposed.
func errorResponse(err error) (int, ErrorResponse) {
	kind := types.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		return status, ErrorResponse{Error: types.KindInternal, Message: "An internal error occurred"}
	}

	resp := ErrorResponse{Error: kind, Message: err.Error()}
	var ledgerErr *types.LedgerError
	if errors.As(err, &ledgerErr) {
		resp.Message = ledgerErr.Message
		resp.Details = ledgerErr.Details
	}
	return status, resp
}

func validationResponse(message string) ErrorResponse {
	return ErrorResponse{Error: types.KindValidation, Message: message}
}

func unauthorizedResponse(message string) ErrorResponse {
	return ErrorResponse{Error: types.KindNotAuthorized, Message: message}
}
