package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/signature"
)

func baseContext() Context {
	return Context{
		SpellID:         "acme/hello",
		Publisher:       "acme",
		Risk:            manifest.RiskLow,
		Execution:       manifest.ExecutionHost,
		SignatureStatus: signature.StatusVerified,
	}
}

func TestLoadMissingFileIsPermissive(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "policy.json"))
	require.NoError(t, err)
	dec, warnings := p.Evaluate(baseContext())
	assert.True(t, dec.Allow)
	assert.Empty(t, warnings)
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"bad json", `{`},
		{"wrong version", `{"version":"v2","default":"allow"}`},
		{"bad default", `{"version":"v1","default":"maybe"}`},
		{"bad action", `{"version":"v1","default":"allow","rules":[{"id":"r1","expression":"true","action":"NOPE","enabled":true}]}`},
		{"bad expression", `{"version":"v1","default":"allow","rules":[{"id":"r1","expression":"risk ==","action":"BLOCK","enabled":true}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	p, err := Parse([]byte(`{"version":"v1","default":"deny"}`))
	require.NoError(t, err)
	dec, _ := p.Evaluate(baseContext())
	assert.False(t, dec.Allow)
	assert.Equal(t, "default policy is deny", dec.Reason)
}

func TestEvaluateDenyMutations(t *testing.T) {
	p, err := Parse([]byte(`{"version":"v1","default":"allow","effects":{"deny_mutations":true}}`))
	require.NoError(t, err)

	ctx := baseContext()
	ctx.Effects = []manifest.Effect{{Type: "http", Mutates: false}}
	dec, _ := p.Evaluate(ctx)
	assert.True(t, dec.Allow)

	ctx.Effects = append(ctx.Effects, manifest.Effect{Type: "db", Mutates: true})
	dec, _ = p.Evaluate(ctx)
	assert.False(t, dec.Allow)
	assert.Equal(t, "mutating effects are denied", dec.Reason)
}

func TestEvaluateRequireVerifiedSignature(t *testing.T) {
	p, err := Parse([]byte(`{"version":"v1","default":"allow","signature":{"require_verified":true}}`))
	require.NoError(t, err)

	ctx := baseContext()
	dec, _ := p.Evaluate(ctx)
	assert.True(t, dec.Allow)

	ctx.SignatureStatus = signature.StatusUnsigned
	dec, _ = p.Evaluate(ctx)
	assert.False(t, dec.Allow)
	assert.Contains(t, dec.Reason, "signature must be verified")
}

func TestEvaluateBlockRule(t *testing.T) {
	doc := `{"version":"v1","default":"allow","rules":[
		{"id":"no-critical","expression":"risk == \"critical\"","action":"BLOCK","enabled":true}
	]}`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	ctx := baseContext()
	dec, _ := p.Evaluate(ctx)
	assert.True(t, dec.Allow)

	ctx.Risk = manifest.RiskCritical
	dec, _ = p.Evaluate(ctx)
	assert.False(t, dec.Allow)
	assert.Contains(t, dec.Reason, "no-critical")
}

func TestEvaluateWarnRuleDoesNotBlock(t *testing.T) {
	doc := `{"version":"v1","default":"allow","rules":[
		{"id":"watch-unsigned","name":"unsigned spell","expression":"signature_status != \"verified\"","action":"WARN","enabled":true}
	]}`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	ctx := baseContext()
	ctx.SignatureStatus = signature.StatusUnsigned
	dec, warnings := p.Evaluate(ctx)
	assert.True(t, dec.Allow)
	require.Len(t, warnings, 1)
	assert.Equal(t, "watch-unsigned", warnings[0].RuleID)
	assert.Equal(t, "unsigned spell", warnings[0].Name)
}

func TestEvaluateDisabledRuleIgnored(t *testing.T) {
	doc := `{"version":"v1","default":"allow","rules":[
		{"id":"r1","expression":"true","action":"BLOCK","enabled":false}
	]}`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	dec, _ := p.Evaluate(baseContext())
	assert.True(t, dec.Allow)
}

func TestRequireFullCompensation(t *testing.T) {
	p, err := Parse([]byte(`{"version":"v1","default":"allow","rollback":{"require_full_compensation":true}}`))
	require.NoError(t, err)
	assert.True(t, p.RequireFullCompensation())
	assert.False(t, Default().RequireFullCompensation())
}

func TestSaveRejectsInvalidAndWritesValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	assert.Error(t, Save(path, []byte(`{"version":"v1","default":"maybe"}`)))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, Save(path, []byte(`{"version":"v1","default":"deny"}`)))
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deny", p.Default)
}
