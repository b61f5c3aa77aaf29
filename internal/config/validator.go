package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration
func (v *Validator) Validate(cfg *Config) error {
	for _, w := range cfg.Workers {
		if err := v.ValidateWorker(w); err != nil {
			return err
		}
	}
	if err := v.ValidateProvider(cfg.Driver.Provider); err != nil {
		return err
	}
	if cfg.Turn.MaxSteps <= 0 {
		return fmt.Errorf("turn max_steps must be positive")
	}
	if cfg.Turn.HistoryLimit <= 0 {
		return fmt.Errorf("turn history_limit must be positive")
	}
	if cfg.Turn.BackgroundPool <= 0 {
		return fmt.Errorf("turn background_pool must be positive")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries cannot be negative")
	}
	if cfg.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay cannot be negative")
	}
	return nil
}

// ValidateWorker checks a worker endpoint definition
func (v *Validator) ValidateWorker(w WorkerConfig) error {
	if w.Name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}
	u, err := url.Parse(w.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("worker %s has invalid URL %q", w.Name, w.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("worker %s URL must be http or https", w.Name)
	}
	return nil
}

// ValidateProvider checks the reasoning driver provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	default:
		return fmt.Errorf("unsupported driver provider: %s", provider)
	}
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
