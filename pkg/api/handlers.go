package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/template"
)

func (s *Server) handleButtons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"buttons": s.buttons.Buttons})
}

// parseFilter reads the shared query set used by the list endpoint and
// the list event stream.
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Status:   q.Get("status"),
		ButtonID: q.Get("button_id"),
		SpellID:  q.Get("spell_id"),
		TenantID: q.Get("tenant_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.New(errs.CodeInvalidQuery, "invalid from timestamp %q", v)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.New(errs.CodeInvalidQuery, "invalid to timestamp %q", v)
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errs.New(errs.CodeInvalidQuery, "invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// scopeFilter narrows the filter to the caller's tenant. Admins may pass
// any tenant_id; everyone else is pinned to their own.
func scopeFilter(f Filter, identity Identity) (Filter, error) {
	if identity.Admin() {
		return f, nil
	}
	if f.TenantID != "" && f.TenantID != identity.TenantID {
		return f, errs.New(errs.CodeTenantForbidden, "cross-tenant access is not allowed")
	}
	f.TenantID = identity.TenantID
	return f, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err = scopeFilter(f, identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": s.store.List(f)})
}

// loadVisible fetches a record after the tenant check.
func (s *Server) loadVisible(r *http.Request) (*Record, error) {
	rec := s.store.Get(r.PathValue("id"))
	if rec == nil {
		return nil, errs.New(errs.CodeNotFound, "execution %s not found", r.PathValue("id"))
	}
	if !identityFrom(r.Context()).CanReadTenant(rec.TenantID) {
		return nil, errs.New(errs.CodeTenantForbidden, "execution belongs to another tenant")
	}
	return rec, nil
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadVisible(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"execution": rec}
	if rcpt, err := s.caster.Receipts.Read(rec.ExecutionID); err == nil {
		resp["receipt"] = sanitizeReceipt(rcpt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// sanitizeReceipt strips captured process output from API responses.
func sanitizeReceipt(r *receipt.Receipt) *receipt.Receipt {
	cp := *r
	cp.Steps = make([]receipt.StepResult, len(r.Steps))
	for i, step := range r.Steps {
		step.StdoutHead = ""
		step.StderrHead = ""
		cp.Steps[i] = step
	}
	return &cp
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadVisible(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErrorCode(w, errs.CodeInvalidOutputPath, "path query parameter is required")
		return
	}
	rcpt, err := s.caster.Receipts.Read(rec.ExecutionID)
	if err != nil {
		writeErrorCode(w, errs.CodeNotFound, "receipt not available")
		return
	}
	value, err := template.ResolveOutputReference(rcpt.Outputs, path)
	if err != nil {
		var notFound *template.ErrOutputNotFound
		if errors.As(err, &notFound) {
			writeErrorCode(w, errs.CodeOutputNotFound, err.Error())
			return
		}
		writeErrorCode(w, errs.CodeInvalidOutputPath, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": value})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadVisible(r)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.store.Update(rec.ExecutionID, func(rec *Record) error {
		if TerminalStatus(rec.Status) {
			return errs.New(errs.CodeAlreadyTerminal, "execution is already %s", rec.Status)
		}
		wasQueued := rec.Status == StatusQueued
		rec.Status = StatusCanceled
		rec.ErrorCode = ""
		if wasQueued {
			now := time.Now().UTC()
			rec.FinishedAt = &now
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if cancel, ok := s.cancels.Load(rec.ExecutionID); ok {
		cancel.(context.CancelFunc)()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": updated.ExecutionID,
		"status":       updated.Status,
	})
}

var retryableStatuses = map[string]bool{
	StatusFailed:   true,
	StatusTimeout:  true,
	StatusCanceled: true,
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadVisible(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !retryableStatuses[rec.Status] {
		writeErrorCode(w, errs.CodeNotRetryable, "execution with status "+rec.Status+" cannot be retried")
		return
	}

	global, forTenant := s.store.CountActive(rec.TenantID)
	if max := s.cfg.API.MaxConcurrentExecutions; max > 0 && global >= max {
		writeErrorCode(w, errs.CodeConcurrencyLimited, "concurrent execution limit reached")
		return
	}
	if max := s.cfg.API.TenantMaxConcurrent; max > 0 && rec.TenantID != "" && forTenant >= max {
		writeErrorCode(w, errs.CodeTenantConcurrencyLimited, "tenant concurrent execution limit reached")
		return
	}

	now := time.Now().UTC()
	retry := &Record{
		ExecutionID: receipt.NewExecutionID(rec.SpellID, rec.Version, now),
		ButtonID:    rec.ButtonID,
		SpellID:     rec.SpellID,
		Version:     rec.Version,
		TenantID:    rec.TenantID,
		ActorRole:   rec.ActorRole,
		Status:      StatusQueued,
		DryRun:      rec.DryRun,
		Input:       rec.Input,
		Flags:       rec.Flags,
		SubmittedAt: now,
		RetryOf:     rec.ExecutionID,
	}
	if err := s.store.Create(retry); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.Update(rec.ExecutionID, func(orig *Record) error {
		orig.RetriedBy = retry.ExecutionID
		return nil
	}); err != nil {
		s.logger.Warn("retry back-link failed", "execution_id", rec.ExecutionID, "error", err)
	}

	s.launch(retry.ExecutionID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": retry.ExecutionID,
		"retry_of":     rec.ExecutionID,
		"status":       retry.Status,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity.Bound && identity.Role != AdminRole {
		writeErrorCode(w, errs.CodeAdminRoleRequired, "tenant usage requires the admin role")
		return
	}
	tenant := r.PathValue("tenant")
	f := Filter{TenantID: tenant}
	queued, running := 0, 0
	for _, rec := range s.store.List(f) {
		switch rec.Status {
		case StatusQueued:
			queued++
		case StatusRunning:
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":            tenant,
		"queued":               queued,
		"running":              running,
		"submissions_last_24h": s.store.SubmissionsSince(tenant, time.Now().Add(-24*time.Hour)),
	})
}
