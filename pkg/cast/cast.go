// Package cast is the top-level orchestrator: it resolves an installed
// bundle, runs the admission gates (schema, signature, policy, platform,
// risk, billing, permissions), executes the step DAG on the host or in
// docker, evaluates checks, and always writes a receipt.
package cast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spellrun/spell/pkg/config"
	"github.com/spellrun/spell/pkg/engine"
	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/install"
	"github.com/spellrun/spell/pkg/license"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/policy"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/signature"
	"github.com/spellrun/spell/pkg/trust"
)

// Options carries one cast request.
type Options struct {
	ID      string
	Version string // empty selects the highest installed version

	// ExecutionID overrides the generated id; the API server assigns ids
	// at submission time so the queued record and the receipt agree.
	ExecutionID string

	InputJSON []byte         // raw --input document
	Params    []string       // key=value dot-path sets, applied after InputJSON
	Input     map[string]any // pre-built input; overrides InputJSON/Params when non-nil

	DryRun           bool
	Yes              bool // acknowledges high/critical risk
	AllowBilling     bool
	RequireSignature bool

	Now time.Time // zero means time.Now
}

// Caster wires the stores and policy into the orchestrator. New fills the
// fields from configuration; callers may override them before use.
type Caster struct {
	Config     *config.Config
	Installs   *install.Store
	Trust      *trust.Store
	Licenses   *license.Store
	Receipts   *receipt.Writer
	Policy     policy.Source
	Docker     DockerRunner
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds a caster over the configured ~/.spell layout with a
// load-once policy.
func New(cfg *config.Config) (*Caster, error) {
	pol, err := policy.Load(cfg.Paths.PolicyPath)
	if err != nil {
		return nil, err
	}
	return &Caster{
		Config:   cfg,
		Installs: install.NewStore(cfg.Paths.SpellsDir),
		Trust:    trust.NewStore(cfg.Paths.TrustDir),
		Licenses: license.NewStore(cfg.Paths.LicensesDir),
		Receipts: receipt.NewWriter(cfg.Paths.LogsDir),
		Policy:   policy.Static{Policy: pol},
		Docker:   &CLIDockerRunner{},
		Logger:   slog.Default(),
	}, nil
}

// Cast runs the full orchestration sequence. Once the bundle is resolved
// every outcome, success or failure, is recorded as a receipt; the
// returned receipt is always non-nil in that case and the error carries
// the taxonomy code.
func (c *Caster) Cast(ctx context.Context, opts Options) (*receipt.Receipt, error) {
	bundle, err := c.Installs.Resolve(opts.ID, opts.Version)
	if err != nil {
		return nil, err
	}
	m := bundle.Manifest

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = receipt.NewExecutionID(m.ID, m.Version, now)
	}

	rec := &receipt.Receipt{
		ExecutionID: executionID,
		ID:          m.ID,
		Version:     m.Version,
		StartedAt:   now,
		Summary: receipt.Summary{
			Risk:    m.Risk,
			Billing: asMap(m.Billing),
			Runtime: asMap(m.Runtime),
		},
		Signature: receipt.SignatureInfo{Required: opts.RequireSignature, Status: signature.StatusSkipped},
	}

	input := opts.Input
	if input == nil {
		input, err = BuildInput(opts.InputJSON, opts.Params)
		if err != nil {
			return c.fail(rec, err)
		}
	}
	rec.Input = input

	if err := CheckInputSize(input, c.Config.Runtime.InputMaxBytes); err != nil {
		return c.fail(rec, err)
	}

	if err := manifest.ValidateInput(filepath.Join(bundle.Path, "schema.json"), input); err != nil {
		return c.fail(rec, errs.New(errs.CodeSchemaValidation, "%v", err))
	}

	sig := signature.Verify(m, bundle.Path, c.Trust)
	rec.Signature = receipt.SignatureInfo{
		Required:  opts.RequireSignature,
		Status:    sig.Status,
		Publisher: sig.Publisher,
		KeyID:     sig.KeyID,
		Digest:    sig.Digest,
	}
	if opts.RequireSignature && !sig.Verified() {
		return c.fail(rec, signatureError(sig))
	}

	pol := c.Policy.Current()
	decision, warnings := pol.Evaluate(policy.Context{
		SpellID:         m.ID,
		Publisher:       m.Publisher(),
		Risk:            m.Risk,
		Execution:       m.Runtime.Execution,
		Effects:         m.Effects,
		SignatureStatus: sig.Status,
	})
	for _, w := range warnings {
		c.logger().Warn("policy warning", "rule", w.RuleID, "name", w.Name, "spell", m.Ref())
	}
	if !decision.Allow {
		return c.fail(rec, errs.New(errs.CodePolicyDenied, "policy denied: %s", decision.Reason))
	}

	host := HostPlatform(m.Runtime.Execution)
	if !PlatformAllowed(m.Runtime.Platforms, host) {
		return c.fail(rec, errs.New(errs.CodePlatformMismatch,
			"platform mismatch: host=%s, spell supports=%s", host, strings.Join(m.Runtime.Platforms, ", ")))
	}

	if (m.Risk == manifest.RiskHigh || m.Risk == manifest.RiskCritical) && !opts.Yes {
		return c.fail(rec, errs.New(errs.CodeRiskConfirmationRequired,
			"risk %s requires confirmation (--yes)", m.Risk))
	}

	if m.Billing.Enabled {
		if !opts.AllowBilling {
			return c.fail(rec, errs.New(errs.CodeBillingNotAllowed, "billing enabled requires --allow-billing"))
		}
		match, err := c.Licenses.FindMatching(m.Billing, now)
		if err != nil {
			return c.fail(rec, err)
		}
		if match == nil {
			return c.fail(rec, errs.New(errs.CodeLicenseRequired, "billing enabled requires matching entitlement token"))
		}
		rec.Summary.License = &receipt.LicenseSummary{Licensed: true, Name: match.Name}
	}

	for _, perm := range m.Permissions {
		envVar := config.ConnectorTokenVar(perm.Connector)
		if os.Getenv(envVar) == "" {
			return c.fail(rec, errs.New(errs.CodePermissionMissing, "missing connector token %s", envVar))
		}
	}

	if opts.DryRun {
		rec.Success = true
		rec.FinishedAt = time.Now().UTC()
		if err := c.Receipts.Write(rec); err != nil {
			return rec, err
		}
		return rec, nil
	}

	engOpts := engine.Options{
		StepTimeout:      time.Duration(c.Config.Runtime.StepTimeoutMs) * time.Millisecond,
		ExecutionTimeout: time.Duration(c.Config.Runtime.ExecutionTimeoutMs) * time.Millisecond,
		HTTPClient:       c.HTTPClient,
	}
	env := environMap()

	var report *engine.Report
	if m.Runtime.Execution == manifest.ExecutionDocker {
		report, err = c.Docker.Run(ctx, bundle, input, env, engOpts)
		if err != nil {
			return c.fail(rec, err)
		}
	} else {
		report = engine.Execute(ctx, m, bundle.Path, input, env, engOpts)
	}

	rec.Steps = report.Steps
	rec.Outputs = report.Outputs
	rec.Rollback = report.Rollback

	if report.Failed() {
		err := errs.New(report.ErrorCode, "%s", report.Error)
		if pol.RequireFullCompensation() && partiallyCompensated(rec.Rollback) {
			rec.Rollback.RequireFullCompensation = true
			rec.Rollback.ManualRecoveryRequired = true
			err = errs.New(errs.CodeCompensationIncomplete,
				"rollback compensation incomplete: %s", rec.Rollback.State)
		}
		return c.fail(rec, err)
	}

	rec.Checks, err = EvaluateChecks(m.Checks, rec.Outputs)
	if err != nil {
		return c.fail(rec, err)
	}

	rec.Success = true
	rec.FinishedAt = time.Now().UTC()
	if err := c.Receipts.Write(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// fail finalizes and persists the failure receipt. The original error is
// returned even when the receipt write itself fails.
func (c *Caster) fail(rec *receipt.Receipt, err error) (*receipt.Receipt, error) {
	rec.Success = false
	rec.Error = err.Error()
	rec.FinishedAt = time.Now().UTC()
	if werr := c.Receipts.Write(rec); werr != nil {
		c.logger().Error("receipt write failed", "execution_id", rec.ExecutionID, "error", werr)
	}
	return rec, err
}

func (c *Caster) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func signatureError(sig signature.Result) error {
	code := errs.CodeSignatureRequired
	switch sig.Status {
	case signature.StatusUntrusted:
		code = errs.CodeSignatureUntrusted
	case signature.StatusInvalid:
		code = errs.CodeSignatureInvalid
	}
	msg := fmt.Sprintf("signature verification required: status %s", sig.Status)
	if sig.Message != "" {
		msg += " (" + sig.Message + ")"
	}
	return errs.New(code, "%s", msg)
}

func partiallyCompensated(rb *receipt.RollbackSummary) bool {
	if rb == nil {
		return false
	}
	return rb.State == receipt.RollbackPartiallyCompensated || rb.State == receipt.RollbackNotCompensated
}

// asMap round-trips a struct through JSON into the receipt summary shape.
func asMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if json.Unmarshal(data, &out) != nil {
		return nil
	}
	return out
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
