// Package config loads the two YAML files a gateway instance reads: the
// provider config (CONFIG_PATH) describing the upstream, and the instance
// config (INSTANCE_CONFIG) holding secrets and operational policy.
// Precedence is environment over YAML over defaults throughout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuber-it/heinzel-ki/retry"
)

type (
	// Provider is the upstream description loaded from CONFIG_PATH.
	Provider struct {
		Name           string       `yaml:"name"`
		APIBase        string       `yaml:"api_base"`
		DefaultModel   string       `yaml:"default_model"`
		Models         []string     `yaml:"models"`
		EmbeddingModel string       `yaml:"embedding_model"`
		TTSModel       string       `yaml:"tts_model"`
		ImageModel     string       `yaml:"image_model"`
		AudioModel     string       `yaml:"audio_model"`
		APIVersion     string       `yaml:"api_version"`
		Retry          retry.Config `yaml:"retry"`
		RateLimitRPM   int          `yaml:"rate_limit_rpm"`
	}

	// Instance holds secrets and operational policy from INSTANCE_CONFIG.
	// The file is optional; a missing file yields defaults and env vars.
	Instance struct {
		Key         string    `yaml:"api_key"`
		LogRequests *bool     `yaml:"log_requests"`
		Database    Database  `yaml:"database"`
		Retention   Retention `yaml:"retention"`
	}

	// Database selects the cost store backend by URL.
	Database struct {
		URL string `yaml:"url"`
	}

	// Retention is the sweep policy for dialog logs and cost rows.
	Retention struct {
		LogMaxAgeDays     int   `yaml:"log_max_age_days"`
		LogMaxSizeMB      int   `yaml:"log_max_size_mb"`
		LogCompress       *bool `yaml:"log_compress"`
		MetricsMaxAgeDays int   `yaml:"metrics_max_age_days"`
	}
)

// Provider type names recognized by the gateway.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// DefaultRetention is the sweep policy applied when the instance config is
// silent.
func DefaultRetention() Retention {
	compress := true
	return Retention{
		LogMaxAgeDays:     30,
		LogMaxSizeMB:      500,
		LogCompress:       &compress,
		MetricsMaxAgeDays: 90,
	}
}

// Compress reports whether aged log files are gzipped rather than deleted.
func (r Retention) Compress() bool {
	return r.LogCompress == nil || *r.LogCompress
}

// LoadProvider reads and validates the provider config. path defaults to
// CONFIG_PATH when empty.
func LoadProvider(p string) (*Provider, error) {
	if p == "" {
		p = os.Getenv("CONFIG_PATH")
	}
	if p == "" {
		p = "/config/anthropic.yaml"
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("config: read provider config: %w", err)
	}
	var cfg Provider
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", p, err)
	}
	if cfg.Name == "" || cfg.APIBase == "" || cfg.DefaultModel == "" {
		return nil, fmt.Errorf("config: %s: name, api_base and default_model are required", p)
	}
	cfg.Retry = retry.DefaultConfig().Merge(cfg.Retry)
	return &cfg, nil
}

// LoadInstance reads the instance config. A missing file is not an error;
// defaults and environment variables take over.
func LoadInstance(p string) (*Instance, error) {
	if p == "" {
		p = os.Getenv("INSTANCE_CONFIG")
	}
	if p == "" {
		p = "/config/instance.yaml"
	}
	var cfg Instance
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read instance config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", p, err)
	}
	return &cfg, nil
}

// keyEnvVars maps provider types to their API key environment variables.
var keyEnvVars = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

// APIKey resolves the key for providerType: env var first, then the YAML
// api_key field.
func (c *Instance) APIKey(providerType string) string {
	if env, ok := keyEnvVars[providerType]; ok {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return c.Key
}

// LogRequestsEnabled resolves the dialog logging flag: LOG_REQUESTS env var,
// then YAML, then true.
func (c *Instance) LogRequestsEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REQUESTS"))) {
	case "false", "0", "no":
		return false
	case "true", "1", "yes":
		return true
	}
	if c.LogRequests != nil {
		return *c.LogRequests
	}
	return true
}

// DatabaseURL resolves the cost store URL: DATABASE_URL env var, then YAML,
// then a SQLite file under dataDir. Relative sqlite paths are resolved
// against dataDir.
func (c *Instance) DatabaseURL(dataDir string) string {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		url = c.Database.URL
	}
	if url == "" {
		url = fmt.Sprintf("sqlite:///%s/costs.db", dataDir)
	}
	return NormalizeSQLiteURL(url, dataDir)
}

// RetentionPolicy overlays the YAML retention section on the defaults.
func (c *Instance) RetentionPolicy() Retention {
	out := DefaultRetention()
	if c.Retention.LogMaxAgeDays > 0 {
		out.LogMaxAgeDays = c.Retention.LogMaxAgeDays
	}
	if c.Retention.LogMaxSizeMB > 0 {
		out.LogMaxSizeMB = c.Retention.LogMaxSizeMB
	}
	if c.Retention.LogCompress != nil {
		out.LogCompress = c.Retention.LogCompress
	}
	if c.Retention.MetricsMaxAgeDays > 0 {
		out.MetricsMaxAgeDays = c.Retention.MetricsMaxAgeDays
	}
	return out
}

// CheckAPIKey fails fast on a missing or placeholder key for the three known
// provider types. Unknown types pass, they carry their own auth.
func (c *Instance) CheckAPIKey(providerType string) error {
	env, known := keyEnvVars[providerType]
	if !known {
		return nil
	}
	key := c.APIKey(providerType)
	if key == "" || strings.HasPrefix(key, "sk-...") || strings.HasPrefix(key, "sk-ant-...") {
		return fmt.Errorf("config: API key missing for provider %q: set %s or api_key in the instance config", providerType, env)
	}
	return nil
}

// NormalizeSQLiteURL makes relative sqlite:/// paths absolute under dataDir.
// Non-sqlite URLs pass through untouched.
func NormalizeSQLiteURL(url, dataDir string) string {
	const prefix = "sqlite:///"
	if !strings.HasPrefix(url, prefix) {
		return url
	}
	rel := url[len(prefix):]
	if strings.HasPrefix(rel, "/") {
		return url
	}
	rel = strings.TrimPrefix(rel, "data/")
	return prefix + path.Join(dataDir, rel)
}

// LogDir resolves the dialog log directory: LOG_DIR env var or /data.
func LogDir() string {
	if d := os.Getenv("LOG_DIR"); d != "" {
		return d
	}
	return "/data"
}
