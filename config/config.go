package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"respguard/circuitbreaker"
	"respguard/logger"
	"respguard/metrics"
	"respguard/parser"
	"respguard/retry"
)

// DefaultConfigFile is read when no explicit path is given and it exists
const DefaultConfigFile = "config.yaml"

// DefaultEnvFile is loaded into the process environment when present
const DefaultEnvFile = ".env"

// ProviderConfig describes the model endpoints used by the analyze and serve commands
type ProviderConfig struct {
	// Endpoints are full chat completion URLs (LLM_ENDPOINT, comma-separated)
	Endpoints    []string      `yaml:"endpoints"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	Stream       bool          `yaml:"stream"`
}

// ProcessingConfig tunes the cleaning stage and the metrics collector
type ProcessingConfig struct {
	// ProseMarkerThreshold is how many field markers make text count as prose
	ProseMarkerThreshold int `yaml:"prose_marker_threshold"`
	MaxSuggestions       int `yaml:"max_suggestions"`
	// MaxEvents bounds the metrics event ring buffer
	MaxEvents int `yaml:"max_events"`
}

// AuditConfig enables the per-response audit log
type AuditConfig struct {
	// Dir is where audit files are written; empty disables auditing
	Dir           string `yaml:"dir"`
	MaskSensitive bool   `yaml:"mask_sensitive"`
	Truncation    int    `yaml:"truncation"`
}

// Config represents the service configuration
type Config struct {
	Port     string `yaml:"port"`
	Service  string `yaml:"service"`
	LogLevel string `yaml:"log_level"`
	// LokiURL enables pushing logs to Loki when set
	LokiURL string `yaml:"loki_url"`

	Provider        ProviderConfig        `yaml:"provider"`
	Retry           retry.Config          `yaml:"retry"`
	CircuitBreaker  circuitbreaker.Config `yaml:"circuit_breaker"`
	Processing      ProcessingConfig      `yaml:"processing"`
	PromptOverrides PromptOverrides       `yaml:"prompt_overrides"`
	Audit           AuditConfig           `yaml:"audit"`
}

// GetDefaultConfig returns a configuration that works without any file or env
func GetDefaultConfig() *Config {
	return &Config{
		Port:     "3456",
		Service:  "respguard",
		LogLevel: "INFO",
		Provider: ProviderConfig{
			Endpoints:   []string{},
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     2 * time.Minute,
		},
		Retry:          retry.DefaultConfig(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Processing: ProcessingConfig{
			ProseMarkerThreshold: parser.DefaultProseMarkerThreshold,
			MaxSuggestions:       parser.DefaultMaxSuggestions,
			MaxEvents:            metrics.DefaultMaxEvents,
		},
		Audit: AuditConfig{MaskSensitive: true},
	}
}

// Load builds the configuration from defaults, the yaml file at path, the
// .env file and the process environment, in that order. An empty path reads
// config.yaml when it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}

	cfg := GetDefaultConfig()
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be an integer: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a boolean: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a duration: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("SERVICE_NAME", &c.Service)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOKI_URL", &c.LokiURL)

	if v, ok := lookup("LLM_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		c.Provider.Endpoints = splitList(v)
	}
	str("LLM_API_KEY", &c.Provider.APIKey)
	str("LLM_MODEL", &c.Provider.Model)
	str("LLM_SYSTEM_PROMPT", &c.Provider.SystemPrompt)
	integer("LLM_MAX_TOKENS", &c.Provider.MaxTokens)
	duration("LLM_TIMEOUT", &c.Provider.Timeout)
	boolean("LLM_STREAM", &c.Provider.Stream)

	integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	duration("RETRY_BASE_DELAY", &c.Retry.BaseDelay)
	duration("RETRY_MAX_DELAY", &c.Retry.MaxDelay)

	integer("CIRCUIT_FAILURE_THRESHOLD", &c.CircuitBreaker.FailureThreshold)
	duration("CIRCUIT_RECOVERY_TIMEOUT", &c.CircuitBreaker.RecoveryTimeout)

	integer("PROSE_MARKER_THRESHOLD", &c.Processing.ProseMarkerThreshold)
	integer("METRICS_MAX_EVENTS", &c.Processing.MaxEvents)
	str("AUDIT_LOG_DIR", &c.Audit.Dir)

	return errors.Join(errs...)
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must be set"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Processing.ProseMarkerThreshold < 1 {
		errs = append(errs, errors.New("processing.prose_marker_threshold must be at least 1"))
	}
	if c.Processing.MaxEvents < 1 {
		errs = append(errs, errors.New("processing.max_events must be at least 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, errors.New("retry.base_delay must not exceed retry.max_delay"))
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		errs = append(errs, errors.New("circuit_breaker.failure_threshold must be at least 1"))
	}
	if c.Audit.Truncation < 0 {
		errs = append(errs, errors.New("audit.truncation must not be negative"))
	}
	if err := c.PromptOverrides.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireProvider reports whether the provider section is usable
func (c *Config) RequireProvider() error {
	if len(c.Provider.Endpoints) == 0 {
		return errors.New("LLM_ENDPOINT (provider.endpoints) must be set")
	}
	if c.Provider.Model == "" {
		return errors.New("LLM_MODEL (provider.model) must be set")
	}
	return nil
}

// LogFields summarises the configuration for a startup log line
func (c *Config) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"port":                   c.Port,
		"log_level":              c.LogLevel,
		"loki_enabled":           c.LokiURL != "",
		"endpoints":              len(c.Provider.Endpoints),
		"model":                  c.Provider.Model,
		"api_key":                maskAPIKey(c.Provider.APIKey),
		"retry_max_attempts":     c.Retry.MaxAttempts,
		"failure_threshold":      c.CircuitBreaker.FailureThreshold,
		"prose_marker_threshold": c.Processing.ProseMarkerThreshold,
		"audit_enabled":          c.Audit.Dir != "",
	}
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}
