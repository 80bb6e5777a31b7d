// Package config loads application configuration from viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/budget-autocat/internal/common"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. AUTOCAT_LLM_API_KEY.
const EnvPrefix = "AUTOCAT"

// fallbackAPIKeyEnv is read when no key is configured under llm.api_key.
const fallbackAPIKeyEnv = "OPENROUTER_API_KEY"

// Config is the complete application configuration.
type Config struct {
	Logging  LoggingConfig
	LLM      LLMConfig
	Database DatabaseConfig
	Metrics  MetricsConfig
	Worker   WorkerConfig
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string
	Format string
}

// LLMConfig configures the completion provider and the engine's request settings.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	PrimaryModel string
	AppName      string
	AppURL       string
	Breaker      BreakerConfig
	Temperature  float64
	Timeout      time.Duration
	MaxTokens    int
	RateLimit    int
}

// BreakerConfig configures the per-model circuit breaker.
type BreakerConfig struct {
	OpenTimeout  time.Duration
	FailureRatio float64
	MinRequests  int
	Enabled      bool
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// WorkerConfig configures the background dispatcher.
type WorkerConfig struct {
	MaxInFlight       int
	CompletionRetries int
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// SetDefaults registers default values on v and enables environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.app_name", "autocat")
	v.SetDefault("llm.app_url", "https://github.com/Veraticus/budget-autocat")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.rate_limit", 120)
	v.SetDefault("llm.breaker.enabled", true)
	v.SetDefault("llm.breaker.min_requests", 5)
	v.SetDefault("llm.breaker.failure_ratio", 0.6)
	v.SetDefault("llm.breaker.open_timeout", 60*time.Second)

	v.SetDefault("database.path", "$HOME/.local/share/autocat/autocat.db")

	v.SetDefault("worker.max_in_flight", 8)
	v.SetDefault("worker.completion_retries", 3)

	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v, applying defaults for unset keys.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		LLM: LLMConfig{
			BaseURL:      v.GetString("llm.base_url"),
			APIKey:       v.GetString("llm.api_key"),
			PrimaryModel: strings.TrimSpace(v.GetString("llm.primary_model")),
			AppName:      v.GetString("llm.app_name"),
			AppURL:       v.GetString("llm.app_url"),
			Temperature:  v.GetFloat64("llm.temperature"),
			MaxTokens:    v.GetInt("llm.max_tokens"),
			Timeout:      v.GetDuration("llm.timeout"),
			RateLimit:    v.GetInt("llm.rate_limit"),
			Breaker: BreakerConfig{
				Enabled:      v.GetBool("llm.breaker.enabled"),
				MinRequests:  v.GetInt("llm.breaker.min_requests"),
				FailureRatio: v.GetFloat64("llm.breaker.failure_ratio"),
				OpenTimeout:  v.GetDuration("llm.breaker.open_timeout"),
			},
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Worker: WorkerConfig{
			MaxInFlight:       v.GetInt("worker.max_in_flight"),
			CompletionRetries: v.GetInt("worker.completion_retries"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(fallbackAPIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. A missing API key is not an error here since
// several commands never call the provider; see RequireAPIKey.
func (c Config) Validate() error {
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is empty", common.ErrInvalidConfig)
	case c.LLM.Temperature < 0 || c.LLM.Temperature > 2:
		return fmt.Errorf("%w: llm.temperature must be between 0 and 2, got %v", common.ErrInvalidConfig, c.LLM.Temperature)
	case c.LLM.MaxTokens <= 0:
		return fmt.Errorf("%w: llm.max_tokens must be positive, got %d", common.ErrInvalidConfig, c.LLM.MaxTokens)
	case c.LLM.Timeout <= 0:
		return fmt.Errorf("%w: llm.timeout must be positive, got %v", common.ErrInvalidConfig, c.LLM.Timeout)
	case c.LLM.RateLimit < 0:
		return fmt.Errorf("%w: llm.rate_limit must not be negative, got %d", common.ErrInvalidConfig, c.LLM.RateLimit)
	case c.LLM.Breaker.FailureRatio <= 0 || c.LLM.Breaker.FailureRatio > 1:
		return fmt.Errorf("%w: llm.breaker.failure_ratio must be in (0,1], got %v", common.ErrInvalidConfig, c.LLM.Breaker.FailureRatio)
	case c.LLM.Breaker.MinRequests < 0:
		return fmt.Errorf("%w: llm.breaker.min_requests must not be negative", common.ErrInvalidConfig)
	case c.Worker.MaxInFlight < 0:
		return fmt.Errorf("%w: worker.max_in_flight must not be negative, got %d", common.ErrInvalidConfig, c.Worker.MaxInFlight)
	case c.Worker.CompletionRetries < 1:
		return fmt.Errorf("%w: worker.completion_retries must be at least 1, got %d", common.ErrInvalidConfig, c.Worker.CompletionRetries)
	}
	return nil
}

// RequireAPIKey returns an error when no provider API key is configured.
func (c Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: set llm.api_key, %s_LLM_API_KEY or %s", common.ErrMissingConfig, EnvPrefix, fallbackAPIKeyEnv)
	}
	return nil
}
