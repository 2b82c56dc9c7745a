// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Stream    StreamConfig    `yaml:"stream"`
	Signals   SignalsConfig   `yaml:"signals"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name    string   `yaml:"name"`
	Symbols []string `yaml:"symbols"`
}

// StreamConfig contains websocket and REST endpoint settings
type StreamConfig struct {
	PublicURL  string `yaml:"public_url"`
	PrivateURL string `yaml:"private_url"`
	RestURL    string `yaml:"rest_url"`
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	RecvWindow int    `yaml:"recv_window"`

	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
	ReconnectMaxAttempts  int `yaml:"reconnect_max_attempts"`
	PingIntervalSeconds   int `yaml:"ping_interval_seconds"`
	PongWaitSeconds       int `yaml:"pong_wait_seconds"`
}

// SignalsConfig contains signal generation and validation settings
type SignalsConfig struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	CooldownSeconds    int     `yaml:"cooldown_seconds"`
	MaxSignalsPerHour  int     `yaml:"max_signals_per_hour"`
	MinHistoryPoints   int     `yaml:"min_history_points"`
	BufferCapacity     int     `yaml:"buffer_capacity"`
}

// TradingConfig contains paper execution parameters
type TradingConfig struct {
	InitialBalance   float64 `yaml:"initial_balance"`
	CommissionRate   float64 `yaml:"commission_rate"`
	SizingFraction   float64 `yaml:"sizing_fraction"`
	QuantityDecimals int     `yaml:"quantity_decimals"`
	MinQuantity      float64 `yaml:"min_quantity"`
	LimitPollMillis  int     `yaml:"limit_poll_millis"`
}

// RiskConfig contains risk gate settings
type RiskConfig struct {
	Enabled            bool    `yaml:"enabled"`
	MaxPositionValue   float64 `yaml:"max_position_value"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
	MinBalance         float64 `yaml:"min_balance"`
	MaxConsecutiveLoss int     `yaml:"max_consecutive_losses"`
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
	CooldownMinutes    int     `yaml:"cooldown_minutes"`
}

// AlertsConfig contains alert channel settings
type AlertsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStreamConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSignalsConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if len(c.App.Symbols) == 0 {
		return ValidationError{
			Field:   "app.symbols",
			Message: "at least one symbol must be configured",
		}
	}
	return nil
}

func (c *Config) validateStreamConfig() error {
	if c.Stream.PublicURL == "" {
		return ValidationError{
			Field:   "stream.public_url",
			Message: "public websocket URL is required",
		}
	}
	if c.Stream.PrivateURL != "" {
		if c.Stream.APIKey == "" {
			return ValidationError{
				Field:   "stream.api_key",
				Message: "API key is required when a private channel is configured",
			}
		}
		if c.Stream.SecretKey == "" {
			return ValidationError{
				Field:   "stream.secret_key",
				Message: "secret key is required when a private channel is configured",
			}
		}
	}
	if c.Stream.ReconnectMaxAttempts <= 0 {
		return ValidationError{
			Field:   "stream.reconnect_max_attempts",
			Value:   c.Stream.ReconnectMaxAttempts,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSignalsConfig() error {
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		return ValidationError{
			Field:   "signals.min_confidence",
			Value:   c.Signals.MinConfidence,
			Message: "must be between 0 and 1",
		}
	}
	if c.Signals.MaxSignalsPerHour <= 0 {
		return ValidationError{
			Field:   "signals.max_signals_per_hour",
			Value:   c.Signals.MaxSignalsPerHour,
			Message: "must be positive",
		}
	}
	if c.Signals.BufferCapacity < c.Signals.MinHistoryPoints {
		return ValidationError{
			Field:   "signals.buffer_capacity",
			Value:   c.Signals.BufferCapacity,
			Message: "must be at least min_history_points",
		}
	}
	return nil
}

func (c *Config) validateTradingConfig() error {
	if c.Trading.InitialBalance <= 0 {
		return ValidationError{
			Field:   "trading.initial_balance",
			Value:   c.Trading.InitialBalance,
			Message: "initial balance must be positive",
		}
	}
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate >= 1 {
		return ValidationError{
			Field:   "trading.commission_rate",
			Value:   c.Trading.CommissionRate,
			Message: "must be in [0, 1)",
		}
	}
	if c.Trading.SizingFraction <= 0 || c.Trading.SizingFraction > 1 {
		return ValidationError{
			Field:   "trading.sizing_fraction",
			Value:   c.Trading.SizingFraction,
			Message: "must be in (0, 1]",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// LimitPollInterval returns the limit order poll interval as a duration.
func (c *Config) LimitPollInterval() time.Duration {
	return time.Duration(c.Trading.LimitPollMillis) * time.Millisecond
}

// SignalCooldown returns the per-symbol signal cooldown as a duration.
func (c *Config) SignalCooldown() time.Duration {
	return time.Duration(c.Signals.CooldownSeconds) * time.Second
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Stream.APIKey = maskString(configCopy.Stream.APIKey)
	configCopy.Stream.SecretKey = maskString(configCopy.Stream.SecretKey)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the configuration defaults. LoadConfig overlays the
// YAML file on top of these.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "papertrader",
			Symbols: []string{"BTCUSDT"},
		},
		Stream: StreamConfig{
			PublicURL:             "wss://stream.bybit.com/v5/public/linear",
			PrivateURL:            "",
			RestURL:               "https://api.bybit.com",
			RecvWindow:            5000,
			ReconnectDelaySeconds: 5,
			ReconnectMaxAttempts:  5,
			PingIntervalSeconds:   30,
			PongWaitSeconds:       60,
		},
		Signals: SignalsConfig{
			MinConfidence:     0.7,
			CooldownSeconds:   300,
			MaxSignalsPerHour: 6,
			MinHistoryPoints:  50,
			BufferCapacity:    200,
		},
		Trading: TradingConfig{
			InitialBalance:   10000,
			CommissionRate:   0.0006,
			SizingFraction:   0.10,
			QuantityDecimals: 3,
			MinQuantity:      0.001,
			LimitPollMillis:  100,
		},
		Risk: RiskConfig{
			Enabled:            true,
			MaxPositionValue:   5000,
			MaxOpenPositions:   5,
			MinBalance:         100,
			MaxConsecutiveLoss: 5,
			MaxDrawdownPercent: 10,
			CooldownMinutes:    30,
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
