package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// ProviderConfig holds the virtualization provider configuration
type ProviderConfig struct {
	// Command is the provider management CLI invoked by the sandbox.
	Command string `mapstructure:"command"`
	// HomeEnv is the provider's home-directory environment variable,
	// pointed at the sandbox home directory of every session.
	HomeEnv string `mapstructure:"home_env"`
}

// SandboxConfig holds sandbox execution configuration
type SandboxConfig struct {
	PoweroffTimeoutSec int `mapstructure:"poweroff_timeout_sec"`
	WaitIntervalSec    int `mapstructure:"wait_interval_sec"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("provider.command", "VBoxManage")
	viper.SetDefault("provider.home_env", "VBOX_USER_HOME")
	viper.SetDefault("sandbox.poweroff_timeout_sec", 5)
	viper.SetDefault("sandbox.wait_interval_sec", 5)
	viper.SetDefault("sandbox.poll_interval_ms", 500)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Provider.Command == "" {
		return fmt.Errorf("provider.command must not be empty")
	}

	if c.Provider.HomeEnv == "" {
		return fmt.Errorf("provider.home_env must not be empty")
	}

	if c.Sandbox.PoweroffTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.poweroff_timeout_sec must be positive, got: %d", c.Sandbox.PoweroffTimeoutSec)
	}

	if c.Sandbox.WaitIntervalSec <= 0 {
		return fmt.Errorf("sandbox.wait_interval_sec must be positive, got: %d", c.Sandbox.WaitIntervalSec)
	}

	if c.Sandbox.PollIntervalMs <= 0 {
		return fmt.Errorf("sandbox.poll_interval_ms must be positive, got: %d", c.Sandbox.PollIntervalMs)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	return nil
}

// PoweroffTimeout returns the cleanup power-off timeout as a duration
func (c *Config) PoweroffTimeout() time.Duration {
	return time.Duration(c.Sandbox.PoweroffTimeoutSec) * time.Second
}

// WaitInterval returns the bounded readiness-wait interval as a duration
func (c *Config) WaitInterval() time.Duration {
	return time.Duration(c.Sandbox.WaitIntervalSec) * time.Second
}

// PollInterval returns the exit-probe poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sandbox.PollIntervalMs) * time.Millisecond
}
