package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	return &Manifest{
		ID:      "acme/hello",
		Version: "1.2.3",
		Name:    "hello",
		Risk:    RiskLow,
		Runtime: Runtime{Execution: ExecutionHost},
		Steps: []Step{
			{Uses: UsesShell, Name: "one", Run: "steps/one.sh"},
			{Uses: UsesHTTP, Name: "two", Run: "steps/two.json", DependsOn: []string{"one"}},
		},
	}
}

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	require.NoError(t, validManifest().Validate())
}

func TestValidateRejectsBadID(t *testing.T) {
	m := validManifest()
	m.ID = "no-slash"
	assert.Error(t, m.Validate())

	m.ID = "/leading"
	assert.Error(t, m.Validate())
}

func TestValidateRejectsBadVersion(t *testing.T) {
	m := validManifest()
	m.Version = "not-semver"
	assert.Error(t, m.Validate())
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	m := validManifest()
	m.Steps[1].Name = "one"
	m.Steps[1].DependsOn = nil
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestValidateRejectsForwardDependency(t *testing.T) {
	m := validManifest()
	m.Steps[0].DependsOn = []string{"two"}
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown or later step")
}

func TestValidateDockerRequiresImage(t *testing.T) {
	m := validManifest()
	m.Runtime = Runtime{Execution: ExecutionDocker}
	assert.Error(t, m.Validate())

	m.Runtime.Image = "alpine:3.20"
	assert.NoError(t, m.Validate())
}

func TestValidateBillingModeRequired(t *testing.T) {
	m := validManifest()
	m.Billing = Billing{Enabled: true}
	assert.Error(t, m.Validate())

	m.Billing.Mode = BillingOnSuccess
	assert.NoError(t, m.Validate())
}

func TestValidateConditionExclusivity(t *testing.T) {
	eq := any("yes")
	m := validManifest()

	m.Steps[1].When = &Condition{InputPath: "a", OutputPath: "step.one.stdout", Equals: &eq}
	assert.Error(t, m.Validate())

	m.Steps[1].When = &Condition{InputPath: "a"}
	assert.Error(t, m.Validate())

	m.Steps[1].When = &Condition{InputPath: "a", Equals: &eq, NotEquals: &eq}
	assert.Error(t, m.Validate())

	m.Steps[1].When = &Condition{InputPath: "a", Equals: &eq}
	assert.NoError(t, m.Validate())
}

func TestPublisherFromID(t *testing.T) {
	assert.Equal(t, "acme", PublisherFromID("acme/hello"))
	assert.Equal(t, "", PublisherFromID("nosplit"))
	assert.Equal(t, "", PublisherFromID("/hello"))
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `id: acme/hello
version: 1.0.0
name: hello
risk: medium
permissions:
  - connector: github
    scopes: [repo]
runtime:
  execution: host
  platforms: [linux/amd64, darwin/arm64]
  max_parallel_steps: 2
steps:
  - uses: shell
    name: greet
    run: steps/greet.sh
    retry:
      max_attempts: 3
      backoff_ms: 10
checks:
  - name: greeted
    output: step.greet.stdout
    equals: "hi"
`
	path := filepath.Join(dir, "spell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme/hello@1.0.0", m.Ref())
	assert.Equal(t, "acme", m.Publisher())
	assert.Equal(t, 2, m.Runtime.MaxParallelSteps)
	require.Len(t, m.Steps, 1)
	require.NotNil(t, m.Steps[0].Retry)
	assert.Equal(t, 3, m.Steps[0].Retry.MaxAttempts)
	require.Len(t, m.Checks, 1)
	require.NotNil(t, m.Checks[0].Equals)
}

func TestValidateInputAgainstSchema(t *testing.T) {
	dir := t.TempDir()
	schema := `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {"name": {"type": "string", "minLength": 1}}
}`
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o644))

	require.NoError(t, ValidateInput(path, map[string]any{"name": "world"}))

	err := ValidateInput(path, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}
