package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/kskip310/luminous/pkg/cron"
	"github.com/kskip310/luminous/pkg/session"
)

var (
	validProviders = []string{"gemini", "anthropic", "openai"}
	validLevels    = []string{"debug", "info", "warn", "error"}
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider checks the model provider name.
func (v *Validator) ValidateProvider(provider string) error {
	if !slices.Contains(validProviders, provider) {
		return fmt.Errorf("invalid model provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if !slices.Contains(validLevels, level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
	}
	return nil
}

// ValidatePort accepts 0 (any free port) through 65535.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", port)
	}
	return nil
}

// ValidateRemote requires url and token together and a usable URL.
func (v *Validator) ValidateRemote(remote RemoteConfig) error {
	if remote.URL == "" && remote.Token == "" {
		return nil
	}
	if remote.URL == "" || remote.Token == "" {
		return fmt.Errorf("remote.url and remote.token must be set together")
	}
	u, err := url.Parse(remote.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid remote.url: %s", remote.URL)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(session.ValidateIdentity(cfg.Identity))
	add(v.ValidateProvider(cfg.Model.Provider))
	if cfg.Model.APIKey != "" {
		add(v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider))
	}
	add(v.ValidateTemperature(cfg.Model.Temperature))
	add(v.ValidateMaxTokens(cfg.Model.MaxTokens))
	if cfg.Model.MaxLoops <= 0 {
		add(fmt.Errorf("model.max_loops must be positive"))
	}
	if cfg.Model.ContextWindow <= 0 {
		add(fmt.Errorf("model.context_window must be positive"))
	}

	add(v.ValidateRemote(cfg.Remote))
	add(v.ValidatePort(cfg.Gateway.Port))
	add(v.ValidateLogLevel(cfg.Logging.Level))

	if cfg.Tools.Retry.MaxAttempts < 1 {
		add(fmt.Errorf("tools.retry.max_attempts must be >= 1"))
	}
	if cfg.Tools.Retry.BaseDelayMs < 0 || cfg.Tools.Retry.MaxJitterMs < 0 {
		add(fmt.Errorf("tools.retry delays must be >= 0"))
	}
	if cfg.Tools.TimeoutMs < 0 || cfg.Tools.CodeTimeoutMs < 0 {
		add(fmt.Errorf("tool timeouts must be >= 0"))
	}

	if cfg.Sync.Enabled {
		if _, err := cron.ParseSchedule(cfg.Sync.Schedule); err != nil {
			add(fmt.Errorf("sync.schedule: %w", err))
		}
	}

	return errs
}
