package receipt

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spellrun/spell/pkg/template"
)

func TestNewExecutionID(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	got := NewExecutionID("acme/hello", "1.2.3", at)
	assert.Equal(t, "20260314T092653Z_acme-hello_1-2-3", got)
}

func TestNewExecutionIDNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	at := time.Date(2026, 3, 14, 11, 0, 0, 0, loc)
	got := NewExecutionID("acme/hello", "1.0.0", at)
	assert.True(t, strings.HasPrefix(got, "20260314T090000Z_"), got)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "acme-hello", Sanitize("acme/hello"))
	assert.Equal(t, "a-b-c", Sanitize("a b@c"))
	assert.Equal(t, "keep_under-score9", Sanitize("keep_under-score9"))
}

func TestHead(t *testing.T) {
	long := strings.Repeat("x", HeadLimit+50)
	assert.Len(t, Head(long), HeadLimit)
	assert.Equal(t, "short", Head("short"))
}

func TestHeadKeepsRunesWhole(t *testing.T) {
	wide := strings.Repeat("é", HeadLimit+50)
	head := Head(wide)
	assert.Equal(t, HeadLimit, utf8.RuneCountInString(head))
	assert.True(t, utf8.ValidString(head))

	// A string over the limit in bytes but not in characters stays intact.
	exact := strings.Repeat("é", HeadLimit)
	assert.Equal(t, exact, Head(exact))
}

func TestWriterWriteRedactsSensitiveInput(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	r := &Receipt{
		ExecutionID: "20260314T092653Z_acme-hello_1-0-0",
		ID:          "acme/hello",
		Version:     "1.0.0",
		Input: map[string]any{
			"name":      "world",
			"api_token": "supersecret",
		},
		Success: true,
	}
	require.NoError(t, w.Write(r))

	data, err := os.ReadFile(w.Path(r.ExecutionID))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")

	var loaded Receipt
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, template.Redacted, loaded.Input["api_token"])
	assert.Equal(t, "world", loaded.Input["name"])

	// The in-memory receipt is untouched.
	assert.Equal(t, "supersecret", r.Input["api_token"])
}

func TestWriterReadRoundTrip(t *testing.T) {
	w := NewWriter(t.TempDir())
	exit := 0
	r := &Receipt{
		ExecutionID: "20260314T092653Z_acme-hello_1-0-0",
		ID:          "acme/hello",
		Version:     "1.0.0",
		StartedAt:   time.Now().UTC().Truncate(time.Second),
		FinishedAt:  time.Now().UTC().Truncate(time.Second),
		Steps: []StepResult{
			{StepName: "greet", Uses: "shell", Success: true, ExitCode: &exit, StdoutHead: "hi"},
		},
		Outputs: map[string]any{"step.greet.stdout": "hi"},
		Checks:  []CheckResult{{Name: "greeted", Success: true}},
		Rollback: &RollbackSummary{
			TotalExecuted: 1,
			State:         RollbackNotNeeded,
		},
		Success: true,
	}
	require.NoError(t, w.Write(r))

	loaded, err := w.Read(r.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, r.ExecutionID, loaded.ExecutionID)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "greet", loaded.Steps[0].StepName)
	require.NotNil(t, loaded.Steps[0].ExitCode)
	assert.Equal(t, 0, *loaded.Steps[0].ExitCode)
	assert.Equal(t, RollbackNotNeeded, loaded.Rollback.State)
}

func TestWriterReadMissing(t *testing.T) {
	w := NewWriter(t.TempDir())
	loaded, err := w.Read("20000101T000000Z_nope_1-0-0")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
