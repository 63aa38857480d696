// Package config resolves the runtime configuration from environment
// variables and the ~/.spell directory layout.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultInputMaxBytes      = 64 * 1024
	DefaultStepTimeoutMs      = 60_000
	DefaultExecutionTimeoutMs = 0 // disabled
	DefaultRequiredPins       = "both"
)

// Paths holds the persistent layout rooted at ~/.spell.
type Paths struct {
	Root         string
	SpellsDir    string
	TrustDir     string
	LicensesDir  string
	LogsDir      string
	PolicyPath   string
	RegistryPath string
	ButtonsPath  string
}

// Runtime holds execution-engine settings.
type Runtime struct {
	InputMaxBytes      int
	StepTimeoutMs      int
	ExecutionTimeoutMs int
	RequiredPins       string // none | commit | digest | both
}

// API holds the execution API server settings.
type API struct {
	Port                       int
	BodyLimitBytes             int64
	RateLimitWindowMs          int
	RateLimitMaxRequests       int
	TenantRateLimitWindowMs    int
	TenantRateLimitMaxRequests int
	MaxConcurrentExecutions    int
	TenantMaxConcurrent        int
	AuthTokens                 []string
	AuthKeys                   []string // "[tenant:]role=token"
	JWTSecret                  string
	LogRetentionDays           int
	LogMaxFiles                int
	ForceRequireSignature      bool
}

// Config is the full resolved configuration.
type Config struct {
	Paths   Paths
	Runtime Runtime
	API     API
}

// Load resolves configuration from the environment. HOME determines the
// ~/.spell root; every other variable has a default.
func Load() *Config {
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	root := filepath.Join(home, ".spell")

	return &Config{
		Paths: Paths{
			Root:         root,
			SpellsDir:    filepath.Join(root, "spells"),
			TrustDir:     filepath.Join(root, "trust"),
			LicensesDir:  filepath.Join(root, "licenses"),
			LogsDir:      filepath.Join(root, "logs"),
			PolicyPath:   filepath.Join(root, "policy.json"),
			RegistryPath: filepath.Join(root, "registry.json"),
			ButtonsPath:  envString("SPELL_API_BUTTONS_PATH", filepath.Join(root, "buttons.json")),
		},
		Runtime: Runtime{
			InputMaxBytes:      envInt("SPELL_RUNTIME_INPUT_MAX_BYTES", DefaultInputMaxBytes),
			StepTimeoutMs:      envInt("SPELL_RUNTIME_STEP_TIMEOUT_MS", DefaultStepTimeoutMs),
			ExecutionTimeoutMs: envInt("SPELL_RUNTIME_EXECUTION_TIMEOUT_MS", DefaultExecutionTimeoutMs),
			RequiredPins:       envString("SPELL_REGISTRY_REQUIRED_PINS", DefaultRequiredPins),
		},
		API: API{
			Port:                       envInt("SPELL_API_PORT", 8484),
			BodyLimitBytes:             int64(envInt("SPELL_API_BODY_LIMIT_BYTES", 1<<20)),
			RateLimitWindowMs:          envInt("SPELL_API_RATE_LIMIT_WINDOW_MS", 60_000),
			RateLimitMaxRequests:       envInt("SPELL_API_RATE_LIMIT_MAX_REQUESTS", 600),
			TenantRateLimitWindowMs:    envInt("SPELL_API_TENANT_RATE_LIMIT_WINDOW_MS", 60_000),
			TenantRateLimitMaxRequests: envInt("SPELL_API_TENANT_RATE_LIMIT_MAX_REQUESTS", 120),
			MaxConcurrentExecutions:    envInt("SPELL_API_MAX_CONCURRENT_EXECUTIONS", 8),
			TenantMaxConcurrent:        envInt("SPELL_API_TENANT_MAX_CONCURRENT_EXECUTIONS", 2),
			AuthTokens:                 envCSV("SPELL_API_AUTH_TOKENS"),
			AuthKeys:                   envCSV("SPELL_API_AUTH_KEYS"),
			JWTSecret:                  os.Getenv("SPELL_API_AUTH_JWT_SECRET"),
			LogRetentionDays:           envInt("SPELL_API_LOG_RETENTION_DAYS", 0),
			LogMaxFiles:                envInt("SPELL_API_LOG_MAX_FILES", 0),
			ForceRequireSignature:      os.Getenv("SPELL_API_FORCE_REQUIRE_SIGNATURE") == "true",
		},
	}
}

// ConnectorTokenVar returns the environment variable name that must hold the
// token for the named connector, e.g. "github" -> CONNECTOR_GITHUB_TOKEN.
func ConnectorTokenVar(connector string) string {
	up := strings.ToUpper(strings.ReplaceAll(connector, "-", "_"))
	return "CONNECTOR_" + up + "_TOKEN"
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envCSV(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
