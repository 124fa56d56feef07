package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the luminous runtime configuration.
type Config struct {
	// Identity selects the session loaded at startup.
	Identity string `json:"identity" mapstructure:"identity"`

	// DataDir holds the sqlite database, the virtual filesystem and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Model   ModelConfig   `json:"model" mapstructure:"model"`
	Remote  RemoteConfig  `json:"remote" mapstructure:"remote"`
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Memory  MemoryConfig  `json:"memory" mapstructure:"memory"`
	Sync    SyncConfig    `json:"sync" mapstructure:"sync"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ModelConfig selects the language model and bounds the turn loop.
type ModelConfig struct {
	Provider      string  `json:"provider" mapstructure:"provider"` // gemini, anthropic, openai
	Model         string  `json:"model" mapstructure:"model"`
	APIKey        string  `json:"api_key" mapstructure:"api_key"`
	BaseURL       string  `json:"base_url" mapstructure:"base_url"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxLoops      int     `json:"max_loops" mapstructure:"max_loops"`
	ContextWindow int     `json:"context_window" mapstructure:"context_window"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// RemoteConfig points at the Redis-over-REST durable tier. An empty URL or
// token leaves the remote tier unconfigured.
type RemoteConfig struct {
	URL       string `json:"url" mapstructure:"url"`
	Token     string `json:"token" mapstructure:"token"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
	TimeoutMs int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port              int    `json:"port" mapstructure:"port"`
	Host              string `json:"host" mapstructure:"host"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxUploadBytes    int    `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// ToolsConfig tunes tool execution.
type ToolsConfig struct {
	TimeoutMs     int         `json:"timeout_ms" mapstructure:"timeout_ms"`
	MaxParallel   int         `json:"max_parallel" mapstructure:"max_parallel"`
	CodeTimeoutMs int         `json:"code_timeout_ms" mapstructure:"code_timeout_ms"`
	MaxBodyBytes  int64       `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	SearchURL     string      `json:"search_url" mapstructure:"search_url"`
	SearchKey     string      `json:"search_key" mapstructure:"search_key"`
	Retry         RetryConfig `json:"retry" mapstructure:"retry"`
}

// RetryConfig is the backoff policy for network tools and model calls.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxJitterMs int `json:"max_jitter_ms" mapstructure:"max_jitter_ms"`
}

// MemoryConfig enables embedding-backed recall. Without an API key recall
// falls back to keyword search.
type MemoryConfig struct {
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
	APIKey         string `json:"api_key" mapstructure:"api_key"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
}

// SyncConfig schedules the continuity resync job.
type SyncConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Identity: "default",
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Model: ModelConfig{
			Provider:      "gemini",
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxLoops:      10,
			ContextWindow: 50,
		},
		Remote: RemoteConfig{
			KeyPrefix: "luminous",
			TimeoutMs: 10000,
		},
		Gateway: GatewayConfig{
			Port:              8787,
			Host:              "127.0.0.1",
			RequestsPerMinute: 120,
			MaxConcurrent:     8,
			MaxUploadBytes:    4 << 20,
		},
		Tools: ToolsConfig{
			TimeoutMs:     30000,
			CodeTimeoutMs: 10000,
			MaxBodyBytes:  1 << 20,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelayMs: 500,
				MaxJitterMs: 250,
			},
		},
		Memory: MemoryConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
		Sync: SyncConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
	}
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Model.APIKey = mask(c.Model.APIKey)
	masked.Remote.Token = mask(c.Remote.Token)
	masked.Gateway.SharedSecret = mask(c.Gateway.SharedSecret)
	masked.Tools.SearchKey = mask(c.Tools.SearchKey)
	masked.Memory.APIKey = mask(c.Memory.APIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// Validate checks the settings the runtime cannot start without.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for provider %s", c.Model.Provider)
	}
	if c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is required")
	}
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
