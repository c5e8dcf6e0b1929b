package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadProvider(t *testing.T) {
	p := writeFile(t, "anthropic.yaml", `
name: anthropic
api_base: https://api.anthropic.com/v1
default_model: claude-sonnet-4
models:
  - claude-sonnet-4
  - claude-3-5-haiku
retry:
  max_retries: 5
rate_limit_rpm: 60
`)
	cfg, err := LoadProvider(p)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Name)
	assert.Equal(t, "claude-sonnet-4", cfg.DefaultModel)
	assert.Equal(t, 60, cfg.RateLimitRPM)

	// The retry section overlays the defaults.
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 1.0, cfg.Retry.InitialDelayS)
	assert.Equal(t, []int{429, 500, 502, 503, 504}, cfg.Retry.RetryOn)
}

func TestLoadProviderRequiredFields(t *testing.T) {
	p := writeFile(t, "bad.yaml", "name: anthropic\napi_base: https://x\n")
	_, err := LoadProvider(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_model")
}

func TestLoadInstanceMissingFileIsOK(t *testing.T) {
	cfg, err := LoadInstance(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.LogRequestsEnabled())
}

func TestAPIKeyEnvWinsOverYAML(t *testing.T) {
	p := writeFile(t, "instance.yaml", "api_key: from-yaml\n")
	cfg, err := LoadInstance(p)
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", cfg.APIKey(ProviderAnthropic))

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	assert.Equal(t, "from-env", cfg.APIKey(ProviderAnthropic))
}

func TestCheckAPIKey(t *testing.T) {
	var cfg Instance
	t.Setenv("OPENAI_API_KEY", "")
	assert.Error(t, cfg.CheckAPIKey(ProviderOpenAI))

	t.Setenv("OPENAI_API_KEY", "sk-...placeholder")
	assert.Error(t, cfg.CheckAPIKey(ProviderOpenAI))

	t.Setenv("OPENAI_API_KEY", "sk-real-key")
	assert.NoError(t, cfg.CheckAPIKey(ProviderOpenAI))

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-...placeholder")
	assert.Error(t, cfg.CheckAPIKey(ProviderAnthropic))

	// Unknown provider types carry their own auth.
	assert.NoError(t, cfg.CheckAPIKey("custom"))
}

func TestLogRequestsEnabledPrecedence(t *testing.T) {
	var cfg Instance
	assert.True(t, cfg.LogRequestsEnabled())

	no := false
	cfg.LogRequests = &no
	assert.False(t, cfg.LogRequestsEnabled())

	t.Setenv("LOG_REQUESTS", "true")
	assert.True(t, cfg.LogRequestsEnabled())

	t.Setenv("LOG_REQUESTS", "0")
	cfg.LogRequests = nil
	assert.False(t, cfg.LogRequestsEnabled())
}

func TestDatabaseURLPrecedence(t *testing.T) {
	var cfg Instance
	t.Setenv("DATABASE_URL", "")

	assert.Equal(t, "sqlite:////data/costs.db", cfg.DatabaseURL("/data"))

	cfg.Database.URL = "sqlite:///metrics.db"
	assert.Equal(t, "sqlite:////data/metrics.db", cfg.DatabaseURL("/data"))

	t.Setenv("DATABASE_URL", "postgresql://u:p@db/costs")
	assert.Equal(t, "postgresql://u:p@db/costs", cfg.DatabaseURL("/data"))
}

func TestNormalizeSQLiteURL(t *testing.T) {
	// Relative paths land under the data dir; the legacy data/ prefix is
	// stripped first.
	assert.Equal(t, "sqlite:////data/costs.db", NormalizeSQLiteURL("sqlite:///costs.db", "/data"))
	assert.Equal(t, "sqlite:////data/costs.db", NormalizeSQLiteURL("sqlite:///data/costs.db", "/data"))

	// Absolute paths and non-sqlite URLs pass through.
	assert.Equal(t, "sqlite:////var/db/costs.db", NormalizeSQLiteURL("sqlite:////var/db/costs.db", "/data"))
	assert.Equal(t, "postgres://db/x", NormalizeSQLiteURL("postgres://db/x", "/data"))
}

func TestRetentionPolicy(t *testing.T) {
	var cfg Instance
	policy := cfg.RetentionPolicy()
	assert.Equal(t, 30, policy.LogMaxAgeDays)
	assert.Equal(t, 500, policy.LogMaxSizeMB)
	assert.Equal(t, 90, policy.MetricsMaxAgeDays)
	assert.True(t, policy.Compress())

	no := false
	cfg.Retention = Retention{LogMaxAgeDays: 7, LogCompress: &no}
	policy = cfg.RetentionPolicy()
	assert.Equal(t, 7, policy.LogMaxAgeDays)
	assert.Equal(t, 500, policy.LogMaxSizeMB)
	assert.False(t, policy.Compress())
}

func TestLogDir(t *testing.T) {
	t.Setenv("LOG_DIR", "")
	assert.Equal(t, "/data", LogDir())
	t.Setenv("LOG_DIR", "/tmp/logs")
	assert.Equal(t, "/tmp/logs", LogDir())
}
