// Package policy loads and evaluates the local execution policy: a JSON
// document with a default verdict, effect and signature rules, a rollback
// escalation flag, and optional CEL rule expressions.
package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/cel-go/cel"

	"github.com/spellrun/spell/pkg/fsutil"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/signature"
)

// Rule actions.
const (
	ActionBlock = "BLOCK"
	ActionWarn  = "WARN"
)

// Rule is one CEL governance rule. The expression sees the same context
// the built-in rules do; a BLOCK rule that evaluates true denies the cast.
type Rule struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Expression string `json:"expression"`
	Action     string `json:"action"`
	Enabled    bool   `json:"enabled"`

	program cel.Program
}

// Policy is the persisted policy.json document.
type Policy struct {
	Version string `json:"version"`
	Default string `json:"default"` // allow | deny
	Effects *struct {
		DenyMutations bool `json:"deny_mutations,omitempty"`
	} `json:"effects,omitempty"`
	Signature *struct {
		RequireVerified bool `json:"require_verified,omitempty"`
	} `json:"signature,omitempty"`
	Rollback *struct {
		RequireFullCompensation bool `json:"require_full_compensation,omitempty"`
	} `json:"rollback,omitempty"`
	Rules []Rule `json:"rules,omitempty"`
}

// Context is the evaluation input for one cast.
type Context struct {
	SpellID         string
	Publisher       string
	Risk            string
	Execution       string
	Effects         []manifest.Effect
	SignatureStatus string
}

// Decision is the evaluation outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// Warning is emitted for WARN rules that matched.
type Warning struct {
	RuleID string
	Name   string
}

// Default returns the permissive policy used when no policy.json exists.
func Default() *Policy {
	return &Policy{Version: "v1", Default: "allow"}
}

// Load reads and compiles policy.json. A missing file yields the default
// permissive policy.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("policy: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a policy document, compiling its CEL rules.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if p.Version != "v1" {
		return nil, fmt.Errorf("policy: unsupported version %q", p.Version)
	}
	if p.Default != "allow" && p.Default != "deny" {
		return nil, fmt.Errorf("policy: default must be allow or deny, got %q", p.Default)
	}
	env, err := celEnv()
	if err != nil {
		return nil, err
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Action != ActionBlock && r.Action != ActionWarn {
			return nil, fmt.Errorf("policy: rule %s has invalid action %q", r.ID, r.Action)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: rule %s compile: %w", r.ID, issues.Err())
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %s program: %w", r.ID, err)
		}
		r.program = prog
	}
	return &p, nil
}

// Save validates and writes a policy document atomically.
func Save(path string, data []byte) error {
	if _, err := Parse(data); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

func celEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("spell_id", cel.StringType),
		cel.Variable("publisher", cel.StringType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("execution", cel.StringType),
		cel.Variable("mutates", cel.BoolType),
		cel.Variable("signature_status", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	return env, nil
}

// RequireFullCompensation reports whether a partially-compensated failure
// must be escalated by the orchestrator.
func (p *Policy) RequireFullCompensation() bool {
	return p.Rollback != nil && p.Rollback.RequireFullCompensation
}

// Evaluate applies the policy in fixed order: default verdict, effect
// rules, signature requirement, then CEL rules. The returned warnings list
// holds WARN rules that matched regardless of the verdict.
func (p *Policy) Evaluate(ctx Context) (Decision, []Warning) {
	if p.Default == "deny" {
		return Decision{Allow: false, Reason: "default policy is deny"}, nil
	}

	mutates := false
	for _, eff := range ctx.Effects {
		if eff.Mutates {
			mutates = true
			break
		}
	}

	if p.Effects != nil && p.Effects.DenyMutations && mutates {
		return Decision{Allow: false, Reason: "mutating effects are denied"}, nil
	}

	if p.Signature != nil && p.Signature.RequireVerified && ctx.SignatureStatus != signature.StatusVerified {
		return Decision{
			Allow:  false,
			Reason: fmt.Sprintf("signature must be verified (status: %s)", ctx.SignatureStatus),
		}, nil
	}

	vars := map[string]any{
		"spell_id":         ctx.SpellID,
		"publisher":        ctx.Publisher,
		"risk":             ctx.Risk,
		"execution":        ctx.Execution,
		"mutates":          mutates,
		"signature_status": ctx.SignatureStatus,
	}

	var warnings []Warning
	for i := range p.Rules {
		r := &p.Rules[i]
		if !r.Enabled || r.program == nil {
			continue
		}
		out, _, err := r.program.Eval(vars)
		if err != nil {
			// Fail closed on BLOCK rules that cannot be evaluated.
			if r.Action == ActionBlock {
				return Decision{Allow: false, Reason: fmt.Sprintf("rule %s failed to evaluate: %v", r.ID, err)}, warnings
			}
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		if r.Action == ActionBlock {
			return Decision{Allow: false, Reason: fmt.Sprintf("rule %s", r.ID)}, warnings
		}
		warnings = append(warnings, Warning{RuleID: r.ID, Name: r.Name})
	}

	return Decision{Allow: true, Reason: "allowed"}, warnings
}
