package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyWholeValueKeepsNativeType(t *testing.T) {
	input := map[string]any{"count": float64(3), "flags": map[string]any{"dry": true}}

	got, err := Apply("{{INPUT.count}}", input, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got)

	got, err = Apply("{{ INPUT.flags.dry }}", input, nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestApplyEmbeddedPlaceholderStringifies(t *testing.T) {
	input := map[string]any{"name": "world", "n": float64(2)}

	got, err := Apply("hello {{INPUT.name}} x{{INPUT.n}}", input, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world x2", got)
}

func TestApplyEnvPlaceholder(t *testing.T) {
	env := map[string]string{"REGION": "eu-west-1"}
	got, err := Apply("{{ENV.REGION}}", nil, env)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", got)
}

func TestApplyUnresolvedFails(t *testing.T) {
	_, err := Apply("{{INPUT.missing}}", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved template")

	_, err = Apply("{{ENV.NOPE}}", nil, map[string]string{})
	assert.Error(t, err)
}

func TestApplyWalksMapsAndSlices(t *testing.T) {
	input := map[string]any{"a": "one", "b": "two"}
	value := map[string]any{
		"list":  []any{"{{INPUT.a}}", "plain"},
		"inner": map[string]any{"x": "{{INPUT.b}}"},
		"num":   float64(7),
	}

	got, err := Apply(value, input, nil)
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, []any{"one", "plain"}, m["list"])
	assert.Equal(t, "two", m["inner"].(map[string]any)["x"])
	assert.Equal(t, float64(7), m["num"])
}

func TestGetPath(t *testing.T) {
	m := map[string]any{"a": map[string]any{"b": "deep"}}

	got, ok := GetPath(m, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "deep", got)

	_, ok = GetPath(m, "a.b.c")
	assert.False(t, ok)
	_, ok = GetPath(m, "missing")
	assert.False(t, ok)
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	m := map[string]any{}
	require.NoError(t, SetPath(m, "a.b.c", 1))
	got, ok := GetPath(m, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestSetPathRejectsNonObjectIntermediate(t *testing.T) {
	m := map[string]any{"a": "scalar"}
	err := SetPath(m, "a.b", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not an object")
}

func TestResolveOutputReferenceStdout(t *testing.T) {
	outputs := map[string]any{"step.greet.stdout": "hi"}

	got, err := ResolveOutputReference(outputs, "step.greet.stdout")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = ResolveOutputReference(outputs, "step.greet.stdout.nested")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support nested path")
}

func TestResolveOutputReferenceJSONPath(t *testing.T) {
	outputs := map[string]any{
		"step.fetch.json": map[string]any{"body": map[string]any{"id": float64(42)}},
	}

	got, err := ResolveOutputReference(outputs, "step.fetch.json.body.id")
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)

	_, err = ResolveOutputReference(outputs, "step.fetch.json.body.nope")
	var notFound *ErrOutputNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestResolveOutputReferenceInvalidForms(t *testing.T) {
	outputs := map[string]any{}
	for _, ref := range []string{"step.x", "nope.x.stdout", "step.x.stderr"} {
		_, err := ResolveOutputReference(outputs, ref)
		assert.Error(t, err, "ref %q", ref)
	}

	_, err := ResolveOutputReference(outputs, "step.gone.stdout")
	var notFound *ErrOutputNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "step.gone.stdout", notFound.Ref)
}

func TestRedactSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"api_key":  "abc123",
		"password": "hunter2",
		"name":     "fine",
		"nested":   map[string]any{"Authorization": "Bearer xyz"},
		"tokens":   []any{map[string]any{"token": "t1"}},
	}

	out := Redact(in, nil).(map[string]any)
	assert.Equal(t, Redacted, out["api_key"])
	assert.Equal(t, Redacted, out["password"])
	assert.Equal(t, "fine", out["name"])
	assert.Equal(t, Redacted, out["nested"].(map[string]any)["Authorization"])
	assert.Equal(t, Redacted, out["tokens"].([]any)[0].(map[string]any)["token"])
}

func TestRedactScrubsEnvValuesFromStrings(t *testing.T) {
	out := Redact(map[string]any{"log": "auth with s3cr3t done"}, []string{"s3cr3t"})
	assert.Equal(t, "auth with "+Redacted+" done", out.(map[string]any)["log"])
}

func TestSensitiveEnvValues(t *testing.T) {
	t.Setenv("CONNECTOR_TOKEN_TESTSVC", "tok-value")
	t.Setenv("HARMLESS_VAR", "visible")

	vals := SensitiveEnvValues()
	assert.Contains(t, vals, "tok-value")
	assert.NotContains(t, vals, "visible")
}
