// Package manifest defines the spell bundle manifest and its loading and
// validation rules. A bundle is identified by id@version where id is a
// slashed publisher/name and version is semver.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Risk levels, ordered by severity.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Billing modes.
const (
	BillingNone         = "none"
	BillingUpfront      = "upfront"
	BillingOnSuccess    = "on_success"
	BillingSubscription = "subscription"
)

// Step executor kinds.
const (
	UsesShell = "shell"
	UsesHTTP  = "http"
)

// Execution targets.
const (
	ExecutionHost   = "host"
	ExecutionDocker = "docker"
)

// Manifest is the parsed spell.yaml.
type Manifest struct {
	ID          string       `yaml:"id" json:"id"`
	Version     string       `yaml:"version" json:"version"`
	Name        string       `yaml:"name" json:"name"`
	Summary     string       `yaml:"summary,omitempty" json:"summary,omitempty"`
	Risk        string       `yaml:"risk" json:"risk"`
	Permissions []Permission `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Effects     []Effect     `yaml:"effects,omitempty" json:"effects,omitempty"`
	Billing     Billing      `yaml:"billing,omitempty" json:"billing"`
	Runtime     Runtime      `yaml:"runtime" json:"runtime"`
	Steps       []Step       `yaml:"steps" json:"steps"`
	Checks      []Check      `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// Permission grants a connector with a scope set.
type Permission struct {
	Connector string   `yaml:"connector" json:"connector"`
	Scopes    []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Effect declares an externally visible consequence of the spell.
type Effect struct {
	Type    string `yaml:"type" json:"type"`
	Target  string `yaml:"target,omitempty" json:"target,omitempty"`
	Mutates bool   `yaml:"mutates,omitempty" json:"mutates,omitempty"`
}

// Billing declares the billing contract of the spell.
type Billing struct {
	Enabled   bool    `yaml:"enabled,omitempty" json:"enabled"`
	Mode      string  `yaml:"mode,omitempty" json:"mode,omitempty"`
	Currency  string  `yaml:"currency,omitempty" json:"currency,omitempty"`
	MaxAmount float64 `yaml:"max_amount,omitempty" json:"max_amount,omitempty"`
}

// Runtime declares where and how steps execute.
type Runtime struct {
	Execution        string   `yaml:"execution" json:"execution"`
	Platforms        []string `yaml:"platforms,omitempty" json:"platforms,omitempty"`
	Image            string   `yaml:"image,omitempty" json:"image,omitempty"`
	MaxParallelSteps int      `yaml:"max_parallel_steps,omitempty" json:"max_parallel_steps,omitempty"`
}

// Retry controls per-step retry behavior.
type Retry struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BackoffMs   int `yaml:"backoff_ms,omitempty" json:"backoff_ms,omitempty"`
}

// Condition gates a step on an input value or a prior step's output.
// Exactly one of InputPath/OutputPath and exactly one of Equals/NotEquals
// must be set.
type Condition struct {
	InputPath  string `yaml:"input_path,omitempty" json:"input_path,omitempty"`
	OutputPath string `yaml:"output_path,omitempty" json:"output_path,omitempty"`
	Equals     *any   `yaml:"equals,omitempty" json:"equals,omitempty"`
	NotEquals  *any   `yaml:"not_equals,omitempty" json:"not_equals,omitempty"`
}

// Step is one node of the execution DAG.
type Step struct {
	Uses      string     `yaml:"uses" json:"uses"`
	Name      string     `yaml:"name" json:"name"`
	Run       string     `yaml:"run" json:"run"`
	Rollback  string     `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	Retry     *Retry     `yaml:"retry,omitempty" json:"retry,omitempty"`
	DependsOn []string   `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	When      *Condition `yaml:"when,omitempty" json:"when,omitempty"`
}

// Check asserts an output value after all steps complete.
type Check struct {
	Name      string `yaml:"name" json:"name"`
	Output    string `yaml:"output" json:"output"`
	Equals    *any   `yaml:"equals,omitempty" json:"equals,omitempty"`
	NotEquals *any   `yaml:"not_equals,omitempty" json:"not_equals,omitempty"`
}

// Ref returns the canonical id@version reference.
func (m *Manifest) Ref() string { return m.ID + "@" + m.Version }

// Publisher returns the publisher segment of the manifest id.
func (m *Manifest) Publisher() string { return PublisherFromID(m.ID) }

// PublisherFromID derives the publisher identity from a slashed bundle id.
func PublisherFromID(id string) string {
	if i := strings.Index(id, "/"); i > 0 {
		return id[:i]
	}
	return ""
}

// Load reads and validates spell.yaml at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

var validRisks = map[string]bool{RiskLow: true, RiskMedium: true, RiskHigh: true, RiskCritical: true}

var validBillingModes = map[string]bool{
	"": true, BillingNone: true, BillingUpfront: true, BillingOnSuccess: true, BillingSubscription: true,
}

// Validate enforces the structural invariants of the manifest.
func (m *Manifest) Validate() error {
	if PublisherFromID(m.ID) == "" || !strings.Contains(m.ID, "/") {
		return fmt.Errorf("manifest: id must be publisher/name, got %q", m.ID)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest: version %q is not semver: %w", m.Version, err)
	}
	if !validRisks[m.Risk] {
		return fmt.Errorf("manifest: invalid risk %q", m.Risk)
	}
	if !validBillingModes[m.Billing.Mode] {
		return fmt.Errorf("manifest: invalid billing mode %q", m.Billing.Mode)
	}
	if m.Billing.Enabled && (m.Billing.Mode == "" || m.Billing.Mode == BillingNone) {
		return fmt.Errorf("manifest: billing enabled requires a billing mode")
	}
	switch m.Runtime.Execution {
	case ExecutionHost:
	case ExecutionDocker:
		if m.Runtime.Image == "" {
			return fmt.Errorf("manifest: docker execution requires an image")
		}
	default:
		return fmt.Errorf("manifest: invalid execution %q", m.Runtime.Execution)
	}
	if m.Runtime.MaxParallelSteps < 0 {
		return fmt.Errorf("manifest: max_parallel_steps must be >= 0")
	}
	if len(m.Steps) == 0 {
		return fmt.Errorf("manifest: at least one step is required")
	}

	seen := make(map[string]bool, len(m.Steps))
	for i, step := range m.Steps {
		if step.Name == "" {
			return fmt.Errorf("manifest: step %d has no name", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("manifest: duplicate step name %q", step.Name)
		}
		if step.Uses != UsesShell && step.Uses != UsesHTTP {
			return fmt.Errorf("manifest: step %q has invalid uses %q", step.Name, step.Uses)
		}
		if step.Run == "" {
			return fmt.Errorf("manifest: step %q has no run path", step.Name)
		}
		if step.Retry != nil && step.Retry.MaxAttempts < 1 {
			return fmt.Errorf("manifest: step %q retry max_attempts must be >= 1", step.Name)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("manifest: step %q depends on unknown or later step %q", step.Name, dep)
			}
		}
		if step.When != nil {
			if err := step.When.validate(step.Name); err != nil {
				return err
			}
		}
		seen[step.Name] = true
	}
	return nil
}

func (c *Condition) validate(step string) error {
	if (c.InputPath == "") == (c.OutputPath == "") {
		return fmt.Errorf("manifest: step %q when requires exactly one of input_path, output_path", step)
	}
	if (c.Equals == nil) == (c.NotEquals == nil) {
		return fmt.Errorf("manifest: step %q when requires exactly one of equals, not_equals", step)
	}
	return nil
}
