package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/receipt"
)

// submitRequest is the button-only submission contract. Unknown fields
// (spell_id in particular) are rejected.
type submitRequest struct {
	ButtonID     string         `json:"button_id"`
	ActorRole    string         `json:"actor_role,omitempty"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	DryRun       bool           `json:"dry_run,omitempty"`
	Confirmation *struct {
		RiskAcknowledged    bool `json:"risk_acknowledged,omitempty"`
		BillingAcknowledged bool `json:"billing_acknowledged,omitempty"`
	} `json:"confirmation,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.API.BodyLimitBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, errs.CodeBadRequest, "request body too large")
			return
		}
		writeErrorCode(w, errs.CodeBadRequest, "unreadable request body")
		return
	}

	var req submitRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErrorCode(w, errs.CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ButtonID == "" {
		writeErrorCode(w, errs.CodeBadRequest, "button_id is required")
		return
	}

	button := s.buttons.Find(req.ButtonID)
	if button == nil {
		writeErrorCode(w, errs.CodeBadRequest, "unknown button "+req.ButtonID)
		return
	}

	// Role-keyed auth overrides anything the client claims about itself.
	tenant, role := req.TenantID, req.ActorRole
	if identity.Bound {
		tenant, role = identity.TenantID, identity.Role
	}

	if !button.RoleAllowed(role) {
		writeErrorCode(w, errs.CodeRoleNotAllowed, "role is not allowed to use this button")
		return
	}
	if !button.TenantAllowed(tenant) {
		writeErrorCode(w, errs.CodeTenantNotAllowed, "tenant is not allowed to use this button")
		return
	}

	riskAck, billingAck := false, false
	if req.Confirmation != nil {
		riskAck = req.Confirmation.RiskAcknowledged
		billingAck = req.Confirmation.BillingAcknowledged
	}
	if button.RequiredConfirmations.Risk && !riskAck {
		writeErrorCode(w, errs.CodeRiskConfirmationRequired, "button requires risk acknowledgement")
		return
	}
	if button.RequiredConfirmations.Billing && !billingAck {
		writeErrorCode(w, errs.CodeBillingNotAllowed, "button requires billing acknowledgement")
		return
	}

	// Idempotency resolves before any new work is admitted.
	idemKey := r.Header.Get("Idempotency-Key")
	bodyHash := ""
	if idemKey != "" {
		bodyHash = canonicalHash(body)
		if entry, ok := s.store.IdempotencyLookup(idemKey); ok {
			if entry.BodyHash == bodyHash {
				writeJSON(w, http.StatusOK, map[string]any{
					"execution_id":      entry.ExecutionID,
					"idempotent_replay": true,
				})
				return
			}
			writeErrorCode(w, errs.CodeIdempotencyConflict, "idempotency key already used with a different body")
			return
		}
	}

	global, forTenant := s.store.CountActive(tenant)
	if max := s.cfg.API.MaxConcurrentExecutions; max > 0 && global >= max {
		writeErrorCode(w, errs.CodeConcurrencyLimited, "concurrent execution limit reached")
		return
	}
	if max := s.cfg.API.TenantMaxConcurrent; max > 0 && tenant != "" && forTenant >= max {
		writeErrorCode(w, errs.CodeTenantConcurrencyLimited, "tenant concurrent execution limit reached")
		return
	}

	bundle, err := s.caster.Installs.Resolve(button.SpellID, button.Version)
	if err != nil {
		writeErrorCode(w, errs.CodeBadRequest, "button spell is not installed: "+err.Error())
		return
	}

	now := time.Now().UTC()
	rec := &Record{
		ExecutionID: receipt.NewExecutionID(bundle.Manifest.ID, bundle.Manifest.Version, now),
		ButtonID:    button.ID,
		SpellID:     bundle.Manifest.ID,
		Version:     bundle.Manifest.Version,
		TenantID:    tenant,
		ActorRole:   role,
		Status:      StatusQueued,
		DryRun:      req.DryRun,
		Input:       mergeInput(button.Defaults, req.Input),
		Flags: CastFlags{
			Yes:              riskAck,
			AllowBilling:     billingAck,
			RequireSignature: button.RequireSignature || s.cfg.API.ForceRequireSignature,
		},
		SubmittedAt:    now,
		IdempotencyKey: idemKey,
	}

	if idemKey != "" {
		err = s.store.IdempotencyBind(idemKey, rec.ExecutionID, bodyHash, rec)
	} else {
		err = s.store.Create(rec)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.launch(rec.ExecutionID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": rec.ExecutionID,
		"status":       rec.Status,
	})
}

// mergeInput overlays the request input on the button defaults.
func mergeInput(defaults, input map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(input))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}
	return merged
}

// canonicalHash hashes the canonical JSON form of the body so formatting
// differences do not defeat idempotent replays.
func canonicalHash(body []byte) string {
	canonical, err := jcs.Transform(body)
	if err != nil {
		canonical = body
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
