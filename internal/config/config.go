package config

import (
	"fmt"
	"time"
)

// Config represents the main stockpilot configuration
type Config struct {
	// Remote worker agents discovered at startup
	Workers []WorkerConfig `json:"workers" mapstructure:"workers"`

	// Reasoning driver
	Driver DriverConfig `json:"driver" mapstructure:"driver"`

	// Turn processing
	Turn TurnConfig `json:"turn" mapstructure:"turn"`

	// Remote call retry policy
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Message history retention
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// WorkerConfig identifies one remote worker agent endpoint
type WorkerConfig struct {
	Name    string        `json:"name" mapstructure:"name"`
	URL     string        `json:"url" mapstructure:"url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DriverConfig configures the external reasoning driver
type DriverConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // "anthropic", "openai"
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// TurnConfig bounds a single conversational turn
type TurnConfig struct {
	MaxSteps       int `json:"max_steps" mapstructure:"max_steps"`
	HistoryLimit   int `json:"history_limit" mapstructure:"history_limit"`
	BackgroundPool int `json:"background_pool" mapstructure:"background_pool"`
}

// RetryConfig configures remote call retry behavior
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
}

// HistoryConfig configures session history archival
type HistoryConfig struct {
	ArchiveEnabled bool          `json:"archive_enabled" mapstructure:"archive_enabled"`
	IdleTimeout    time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepSchedule  string        `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Workers: []WorkerConfig{
			{Name: "stock-analyser", URL: "http://localhost:10002", Timeout: 30 * time.Second},
			{Name: "report-analyser", URL: "http://localhost:10003", Timeout: 30 * time.Second},
		},
		Driver: DriverConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Turn: TurnConfig{
			MaxSteps:       100,
			HistoryLimit:   50,
			BackgroundPool: 4,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
		},
		History: HistoryConfig{
			ArchiveEnabled: true,
			IdleTimeout:    30 * time.Minute,
			SweepSchedule:  "*/5 * * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a human-readable summary without secrets
func (c *Config) String() string {
	return fmt.Sprintf("Config{workers=%d, driver=%s/%s, max_steps=%d, retries=%d}",
		len(c.Workers), c.Driver.Provider, c.Driver.Model, c.Turn.MaxSteps, c.Retry.MaxRetries)
}
