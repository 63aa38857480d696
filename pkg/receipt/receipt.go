// Package receipt defines the durable execution receipt: the append-only
// JSON record of a cast with redacted input, step and check results,
// outputs, and the rollback summary.
package receipt

import (
	"regexp"
	"time"
)

// Rollback compensation states.
const (
	RollbackNotNeeded            = "not_needed"
	RollbackFullyCompensated     = "fully_compensated"
	RollbackPartiallyCompensated = "partially_compensated"
	RollbackNotCompensated       = "not_compensated"
)

// HeadLimit caps stdout_head/stderr_head in step results.
const HeadLimit = 200

// StepResult records one step attempt outcome.
type StepResult struct {
	StepName   string    `json:"stepName"`
	Uses       string    `json:"uses"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	StdoutHead string    `json:"stdout_head,omitempty"`
	StderrHead string    `json:"stderr_head,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// CheckResult records one declared check outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RollbackSummary accounts for the compensation pass after a failure.
type RollbackSummary struct {
	TotalExecuted                 int      `json:"total_executed"`
	RollbackPlanned               int      `json:"rollback_planned"`
	RollbackAttempted             int      `json:"rollback_attempted"`
	RollbackSucceeded             int      `json:"rollback_succeeded"`
	RollbackFailed                int      `json:"rollback_failed"`
	RollbackSkippedWithoutHandler int      `json:"rollback_skipped_without_handler"`
	FailedSteps                   []string `json:"failed_steps,omitempty"`
	State                         string   `json:"state"`
	RequireFullCompensation       bool     `json:"require_full_compensation,omitempty"`
	ManualRecoveryRequired        bool     `json:"manual_recovery_required,omitempty"`
}

// SignatureInfo records the verification outcome embedded in the receipt.
type SignatureInfo struct {
	Required  bool   `json:"required"`
	Status    string `json:"status"`
	Publisher string `json:"publisher,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Digest    string `json:"digest,omitempty"`
}

// LicenseSummary records which license satisfied the billing gate.
type LicenseSummary struct {
	Licensed bool   `json:"licensed"`
	Name     string `json:"name,omitempty"`
}

// Summary carries the policy-relevant manifest facts at cast time.
type Summary struct {
	Risk    string          `json:"risk"`
	Billing map[string]any  `json:"billing,omitempty"`
	Runtime map[string]any  `json:"runtime,omitempty"`
	License *LicenseSummary `json:"license,omitempty"`
}

// Receipt is the durable record of one cast. Created on completion or
// abnormal termination, never mutated afterwards.
type Receipt struct {
	ExecutionID string           `json:"execution_id"`
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Input       map[string]any   `json:"input,omitempty"`
	Summary     Summary          `json:"summary"`
	Signature   SignatureInfo    `json:"signature"`
	Steps       []StepResult     `json:"steps,omitempty"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Checks      []CheckResult    `json:"checks,omitempty"`
	Rollback    *RollbackSummary `json:"rollback,omitempty"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Sanitize makes a value safe for use in execution ids and file names.
func Sanitize(s string) string {
	return sanitizeRe.ReplaceAllString(s, "-")
}

// NewExecutionID builds the stable execution id for a cast:
// YYYYMMDDTHHMMSSZ_<sanitized id>_<sanitized version>.
func NewExecutionID(id, version string, now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "_" + Sanitize(id) + "_" + Sanitize(version)
}

// Head truncates captured output for the step result heads. The limit
// counts characters, not bytes, so multibyte output is never split
// mid-rune.
func Head(s string) string {
	if len(s) <= HeadLimit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= HeadLimit {
		return s
	}
	return string(runes[:HeadLimit])
}
