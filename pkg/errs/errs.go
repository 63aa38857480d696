// Package errs defines the runtime error taxonomy shared by the CLI
// messages and the API error_code field.
package errs

import (
	"errors"
	"fmt"
)

// Error codes. The same names appear in CLI failures and API responses.
const (
	// Validation
	CodeBadRequest        = "BAD_REQUEST"
	CodeInvalidQuery      = "INVALID_QUERY"
	CodeSchemaValidation  = "SCHEMA_VALIDATION"
	CodeInvalidOutputPath = "INVALID_OUTPUT_PATH"

	// Gates
	CodeRiskConfirmationRequired = "RISK_CONFIRMATION_REQUIRED"
	CodeBillingNotAllowed        = "BILLING_NOT_ALLOWED"
	CodeLicenseRequired          = "LICENSE_REQUIRED"
	CodePermissionMissing        = "PERMISSION_MISSING"
	CodePlatformMismatch         = "PLATFORM_MISMATCH"
	CodePolicyDenied             = "POLICY_DENIED"

	// Trust
	CodeSignatureRequired  = "SIGNATURE_REQUIRED"
	CodeSignatureInvalid   = "SIGNATURE_INVALID"
	CodeSignatureUntrusted = "SIGNATURE_UNTRUSTED"

	// Execution
	CodeStepFailed             = "STEP_FAILED"
	CodeStepDeadlock           = "STEP_DEADLOCK"
	CodeStepTimeout            = "STEP_TIMEOUT"
	CodeExecutionTimeout       = "EXECUTION_TIMEOUT"
	CodeCanceled               = "CANCELED"
	CodeCompensationIncomplete = "COMPENSATION_INCOMPLETE"

	// API
	CodeAuthRequired             = "AUTH_REQUIRED"
	CodeAuthInvalid              = "AUTH_INVALID"
	CodeRoleNotAllowed           = "ROLE_NOT_ALLOWED"
	CodeTenantForbidden          = "TENANT_FORBIDDEN"
	CodeTenantNotAllowed         = "TENANT_NOT_ALLOWED"
	CodeAdminRoleRequired        = "ADMIN_ROLE_REQUIRED"
	CodeNotFound                 = "NOT_FOUND"
	CodeOutputNotFound           = "OUTPUT_NOT_FOUND"
	CodeAlreadyTerminal          = "ALREADY_TERMINAL"
	CodeNotRetryable             = "NOT_RETRYABLE"
	CodeIdempotencyConflict      = "IDEMPOTENCY_CONFLICT"
	CodeConcurrencyLimited       = "CONCURRENCY_LIMITED"
	CodeTenantConcurrencyLimited = "TENANT_CONCURRENCY_LIMITED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeTenantRateLimited        = "TENANT_RATE_LIMITED"
	CodeInternal                 = "INTERNAL"
)

// Error carries a taxonomy code and a single-line user-visible message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds a coded error with a formatted message.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// INTERNAL for uncoded errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
