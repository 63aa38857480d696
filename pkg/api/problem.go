package api

import (
	"encoding/json"
	"net/http"

	"github.com/spellrun/spell/pkg/errs"
)

// apiError is the JSON error body: the taxonomy code plus a single-line
// message.
type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// httpStatus maps a taxonomy code onto its transport status.
func httpStatus(code string) int {
	switch code {
	case errs.CodeBadRequest, errs.CodeInvalidQuery, errs.CodeSchemaValidation, errs.CodeInvalidOutputPath,
		errs.CodeRiskConfirmationRequired, errs.CodeBillingNotAllowed, errs.CodeLicenseRequired,
		errs.CodePermissionMissing, errs.CodePlatformMismatch, errs.CodePolicyDenied,
		errs.CodeSignatureRequired, errs.CodeSignatureInvalid, errs.CodeSignatureUntrusted:
		return http.StatusBadRequest
	case errs.CodeAuthRequired, errs.CodeAuthInvalid:
		return http.StatusUnauthorized
	case errs.CodeRoleNotAllowed, errs.CodeTenantForbidden, errs.CodeTenantNotAllowed, errs.CodeAdminRoleRequired:
		return http.StatusForbidden
	case errs.CodeNotFound, errs.CodeOutputNotFound:
		return http.StatusNotFound
	case errs.CodeAlreadyTerminal, errs.CodeNotRetryable, errs.CodeIdempotencyConflict:
		return http.StatusConflict
	case errs.CodeRateLimited, errs.CodeTenantRateLimited,
		errs.CodeConcurrencyLimited, errs.CodeTenantConcurrencyLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, code, message string) {
	writeJSON(w, httpStatus(code), apiError{ErrorCode: code, Message: message})
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorCode(w, errs.CodeOf(err), err.Error())
}
