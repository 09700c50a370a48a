package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the qianfan client.
type Config struct {
	Provider       ProviderConfig       `yaml:"provider"`
	Chat           ChatConfig           `yaml:"chat"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logger         LoggerConfig         `yaml:"logger"`
	Tracer         TracerConfig         `yaml:"tracer"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// ProviderConfig holds connection settings for the completion service.
type ProviderConfig struct {
	BaseURL          string          `yaml:"base_url" validate:"required,url"`
	APIKey           string          `yaml:"api_key"`
	ConnTimeout      time.Duration   `yaml:"conn_timeout" validate:"gte=0"`
	RespTimeout      time.Duration   `yaml:"resp_timeout" validate:"gte=0"`
	Pool             PoolConfig      `yaml:"pool"`
	FallbackBaseURLs []string        `yaml:"fallback_base_urls" validate:"dive,url"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" validate:"gte=0"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" validate:"gte=0"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" validate:"gte=0"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" validate:"gte=0"`
}

// RateLimitConfig throttles outgoing requests. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// ChatConfig holds the default chat options. Nil fields stay unset.
type ChatConfig struct {
	Model                 string   `yaml:"model" validate:"required"`
	Temperature           *float64 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	TopP                  *float64 `yaml:"top_p" validate:"omitempty,gt=0,lte=1"`
	MaxTokens             *int     `yaml:"max_tokens" validate:"omitempty,gt=0"`
	FrequencyPenalty      *float64 `yaml:"frequency_penalty" validate:"omitempty,gte=-2,lte=2"`
	PresencePenalty       *float64 `yaml:"presence_penalty" validate:"omitempty,gte=-2,lte=2"`
	Stop                  []string `yaml:"stop"`
	ResponseFormat        string   `yaml:"response_format" validate:"omitempty,oneof=text json_object"`
	ToolChoice            string   `yaml:"tool_choice" validate:"omitempty,oneof=auto any none"`
	InternalToolExecution *bool    `yaml:"internal_tool_execution"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Model      string `yaml:"model" validate:"required"`
	UserID     string `yaml:"user_id"`
	Dimensions int    `yaml:"dimensions" validate:"gte=0"`
	CacheSize  int    `yaml:"cache_size" validate:"gte=0"`
}

// RetryConfig controls retries of transient transport failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gte=0"`
}

// CircuitBreakerConfig holds circuit breaker settings for the transport.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=stdout noop"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig holds Prometheus settings. ListenAddr empty means no HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// Default values for the QianFan v2 service.
const (
	DefaultBaseURL        = "https://qianfan.baidubce.com/v2"
	DefaultChatModel      = "ernie-4.5-turbo-128k"
	DefaultTemperature    = 0.7
	DefaultEmbeddingModel = "embedding-v1"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	temperature := DefaultTemperature
	return &Config{
		Provider: ProviderConfig{
			BaseURL:     DefaultBaseURL,
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Chat: ChatConfig{
			Model:       DefaultChatModel,
			Temperature: &temperature,
		},
		Embedding: EmbeddingConfig{
			Model: DefaultEmbeddingModel,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Namespace: "qianfan",
		},
	}
}

// Load reads a YAML config file over the defaults, loads a .env file from the
// working directory if present, applies env var overrides and validates.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps QIANFAN_* env vars to config fields.
// Unparseable numeric values are ignored and left to Validate.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QIANFAN_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("QIANFAN_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("QIANFAN_FALLBACK_BASE_URLS"); v != "" {
		cfg.Provider.FallbackBaseURLs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("QIANFAN_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Provider.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("QIANFAN_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("QIANFAN_CHAT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Chat.Temperature = &f
		}
	}
	if v := os.Getenv("QIANFAN_CHAT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chat.MaxTokens = &n
		}
	}
	if v := os.Getenv("QIANFAN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("QIANFAN_EMBEDDING_USER_ID"); v != "" {
		cfg.Embedding.UserID = v
	}
	if v := os.Getenv("QIANFAN_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("QIANFAN_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv("QIANFAN_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("QIANFAN_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("QIANFAN_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("QIANFAN_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("QIANFAN_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("QIANFAN_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
// The file may hold an API key.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Group or others may read but never write.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (must not be group or world writable)", path, mode)
	}
	return nil
}
