package cast

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/manifest"
)

func TestBuildInputFromJSONAndParams(t *testing.T) {
	input, err := BuildInput([]byte(`{"name":"base","nested":{"keep":true}}`), []string{
		"name=override",
		"nested.count=3",
		"flag=true",
		"plain=not json at all",
	})
	require.NoError(t, err)

	assert.Equal(t, "override", input["name"])
	nested := input["nested"].(map[string]any)
	assert.Equal(t, true, nested["keep"])
	assert.Equal(t, float64(3), nested["count"])
	assert.Equal(t, true, input["flag"])
	assert.Equal(t, "not json at all", input["plain"])
}

func TestBuildInputRejectsBadDocument(t *testing.T) {
	_, err := BuildInput([]byte(`[1,2]`), nil)
	require.Error(t, err)
	assert.Equal(t, errs.CodeBadRequest, errs.CodeOf(err))
}

func TestBuildInputRejectsBadParam(t *testing.T) {
	for _, p := range []string{"noequals", "=value"} {
		_, err := BuildInput(nil, []string{p})
		assert.Error(t, err, "param %q", p)
	}
}

func TestCheckInputSize(t *testing.T) {
	small := map[string]any{"a": 1}
	assert.NoError(t, CheckInputSize(small, 1024))
	assert.NoError(t, CheckInputSize(small, 0)) // disabled

	err := CheckInputSize(small, 2)
	require.Error(t, err)
	assert.Equal(t, errs.CodeBadRequest, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "input exceeds maximum size")
}

func TestNormalizeArch(t *testing.T) {
	assert.Equal(t, "amd64", NormalizeArch("x64"))
	assert.Equal(t, "arm64", NormalizeArch("arm64"))
}

func TestHostPlatform(t *testing.T) {
	host := HostPlatform(manifest.ExecutionHost)
	assert.Contains(t, host, runtime.GOOS+"/")

	docker := HostPlatform(manifest.ExecutionDocker)
	assert.Contains(t, docker, "linux/")
}

func TestPlatformAllowed(t *testing.T) {
	assert.True(t, PlatformAllowed(nil, "linux/amd64"))
	assert.True(t, PlatformAllowed([]string{"linux/amd64", "darwin/arm64"}, "linux/amd64"))
	assert.False(t, PlatformAllowed([]string{"darwin/arm64"}, "linux/amd64"))
}

func TestEvaluateChecks(t *testing.T) {
	outputs := map[string]any{
		"step.greet.stdout": "hi\n",
		"step.fetch.json":   map[string]any{"status": "created", "count": float64(2)},
	}

	eqHi := any("hi\n")
	eqCreated := any("created")
	neOther := any("deleted")
	checks := []manifest.Check{
		{Name: "greeting", Output: "step.greet.stdout", Equals: &eqHi},
		{Name: "status", Output: "step.fetch.json.status", Equals: &eqCreated},
		{Name: "not-deleted", Output: "step.fetch.json.status", NotEquals: &neOther},
	}

	results, err := EvaluateChecks(checks, outputs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success, r.Name)
	}
}

func TestEvaluateChecksNumericLooseMatch(t *testing.T) {
	outputs := map[string]any{"step.fetch.json": map[string]any{"count": float64(2)}}
	eq := any(2)
	results, err := EvaluateChecks([]manifest.Check{
		{Name: "count", Output: "step.fetch.json.count", Equals: &eq},
	}, outputs)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
}

func TestEvaluateChecksFailureReportsAll(t *testing.T) {
	outputs := map[string]any{"step.greet.stdout": "hi\n"}
	eqWrong := any("bye")
	eqRight := any("hi\n")
	checks := []manifest.Check{
		{Name: "first-bad", Output: "step.greet.stdout", Equals: &eqWrong},
		{Name: "second-good", Output: "step.greet.stdout", Equals: &eqRight},
	}

	results, err := EvaluateChecks(checks, outputs)
	require.Error(t, err)
	assert.Equal(t, errs.CodeStepFailed, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "first-bad")

	// Every check is still evaluated and recorded.
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestEvaluateChecksMissingOutputFails(t *testing.T) {
	eq := any("x")
	results, err := EvaluateChecks([]manifest.Check{
		{Name: "gone", Output: "step.gone.stdout", Equals: &eq},
	}, map[string]any{})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}
