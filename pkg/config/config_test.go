package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SPELL_RUNTIME_INPUT_MAX_BYTES", "")
	t.Setenv("SPELL_API_PORT", "")
	t.Setenv("SPELL_API_BUTTONS_PATH", "")

	cfg := Load()
	root := filepath.Join(home, ".spell")
	assert.Equal(t, root, cfg.Paths.Root)
	assert.Equal(t, filepath.Join(root, "spells"), cfg.Paths.SpellsDir)
	assert.Equal(t, filepath.Join(root, "policy.json"), cfg.Paths.PolicyPath)
	assert.Equal(t, filepath.Join(root, "buttons.json"), cfg.Paths.ButtonsPath)
	assert.Equal(t, DefaultInputMaxBytes, cfg.Runtime.InputMaxBytes)
	assert.Equal(t, DefaultStepTimeoutMs, cfg.Runtime.StepTimeoutMs)
	assert.Equal(t, DefaultRequiredPins, cfg.Runtime.RequiredPins)
	assert.Equal(t, 8484, cfg.API.Port)
	assert.False(t, cfg.API.ForceRequireSignature)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SPELL_RUNTIME_INPUT_MAX_BYTES", "1024")
	t.Setenv("SPELL_RUNTIME_STEP_TIMEOUT_MS", "250")
	t.Setenv("SPELL_REGISTRY_REQUIRED_PINS", "digest")
	t.Setenv("SPELL_API_PORT", "9000")
	t.Setenv("SPELL_API_AUTH_TOKENS", "tok1, tok2,,tok3")
	t.Setenv("SPELL_API_AUTH_JWT_SECRET", "hmac-secret")
	t.Setenv("SPELL_API_FORCE_REQUIRE_SIGNATURE", "true")
	t.Setenv("SPELL_API_BUTTONS_PATH", "/etc/spell/buttons.json")

	cfg := Load()
	assert.Equal(t, 1024, cfg.Runtime.InputMaxBytes)
	assert.Equal(t, 250, cfg.Runtime.StepTimeoutMs)
	assert.Equal(t, "digest", cfg.Runtime.RequiredPins)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, []string{"tok1", "tok2", "tok3"}, cfg.API.AuthTokens)
	assert.Equal(t, "hmac-secret", cfg.API.JWTSecret)
	assert.True(t, cfg.API.ForceRequireSignature)
	assert.Equal(t, "/etc/spell/buttons.json", cfg.Paths.ButtonsPath)
}

func TestLoadIgnoresMalformedInts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SPELL_RUNTIME_STEP_TIMEOUT_MS", "not-a-number")

	cfg := Load()
	require.Equal(t, DefaultStepTimeoutMs, cfg.Runtime.StepTimeoutMs)
}

func TestConnectorTokenVar(t *testing.T) {
	assert.Equal(t, "CONNECTOR_GITHUB_TOKEN", ConnectorTokenVar("github"))
	assert.Equal(t, "CONNECTOR_PAGER_DUTY_TOKEN", ConnectorTokenVar("pager-duty"))
}
