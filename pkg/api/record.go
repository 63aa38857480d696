package api

import (
	"time"
)

// Execution statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCanceled  = "canceled"
)

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(s string) bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimeout, StatusCanceled:
		return true
	}
	return false
}

// CastFlags are the admission acknowledgements carried from submission to
// execution, kept on the record so a retry re-runs with the same gates.
type CastFlags struct {
	Yes              bool `json:"yes,omitempty"`
	AllowBilling     bool `json:"allow_billing,omitempty"`
	RequireSignature bool `json:"require_signature,omitempty"`
}

// Record is one API execution: the submission envelope plus the status
// machine. The receipt itself lives in its own logs/<execution_id>.json
// file; the index mirrors only what listing and retry need.
type Record struct {
	ExecutionID    string         `json:"execution_id"`
	ButtonID       string         `json:"button_id"`
	SpellID        string         `json:"spell_id"`
	Version        string         `json:"version"`
	TenantID       string         `json:"tenant_id,omitempty"`
	ActorRole      string         `json:"actor_role,omitempty"`
	Status         string         `json:"status"`
	ErrorCode      string         `json:"error_code,omitempty"`
	Error          string         `json:"error,omitempty"`
	DryRun         bool           `json:"dry_run,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Flags          CastFlags      `json:"flags,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	RetryOf        string         `json:"retry_of,omitempty"`
	RetriedBy      string         `json:"retried_by,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Clone returns a shallow-enough copy safe to hand outside the store's
// lock. Input maps are shared but treated as immutable after submission.
func (r *Record) Clone() *Record {
	cp := *r
	return &cp
}

// Filter selects records for listing and the list event stream.
type Filter struct {
	Status   string
	ButtonID string
	SpellID  string
	TenantID string
	From     time.Time
	To       time.Time
	Limit    int
}

// Match applies every set field of the filter.
func (f Filter) Match(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ButtonID != "" && r.ButtonID != f.ButtonID {
		return false
	}
	if f.SpellID != "" && r.SpellID != f.SpellID {
		return false
	}
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if !f.From.IsZero() && r.SubmittedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.SubmittedAt.After(f.To) {
		return false
	}
	return true
}
