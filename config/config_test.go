package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Provider: ProviderConfig{
			Command: "VBoxManage",
			HomeEnv: "VBOX_USER_HOME",
		},
		Sandbox: SandboxConfig{
			PoweroffTimeoutSec: 5,
			WaitIntervalSec:    5,
			PollIntervalMs:     500,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "carrier-pigeon"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("EmptyProviderCommand", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provider.Command = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider.command must not be empty")
	})

	t.Run("EmptyProviderHomeEnv", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provider.HomeEnv = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider.home_env must not be empty")
	})

	t.Run("InvalidPoweroffTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.PoweroffTimeoutSec = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.poweroff_timeout_sec must be positive")
	})

	t.Run("InvalidWaitInterval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.WaitIntervalSec = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.wait_interval_sec must be positive")
	})

	t.Run("InvalidPollInterval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.PollIntervalMs = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.poll_interval_ms must be positive")
	})

	t.Run("InvalidLoggingMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Mode = "silent"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.mode")
	})
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.PoweroffTimeoutSec = 7
	cfg.Sandbox.WaitIntervalSec = 3
	cfg.Sandbox.PollIntervalMs = 250

	assert.Equal(t, 7*time.Second, cfg.PoweroffTimeout())
	assert.Equal(t, 3*time.Second, cfg.WaitInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
}

func TestNew(t *testing.T) {
	t.Run("DefaultsWithoutConfigFile", func(t *testing.T) {
		viper.Reset()
		t.Chdir(t.TempDir())

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, "stdio", cfg.Server.Transport)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
		assert.Equal(t, "VBoxManage", cfg.Provider.Command)
		assert.Equal(t, "VBOX_USER_HOME", cfg.Provider.HomeEnv)
		assert.Equal(t, 5, cfg.Sandbox.PoweroffTimeoutSec)
		assert.Equal(t, 5, cfg.Sandbox.WaitIntervalSec)
		assert.Equal(t, 500, cfg.Sandbox.PollIntervalMs)
		assert.Equal(t, "production", cfg.Logging.Mode)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("ReadsConfigFile", func(t *testing.T) {
		viper.Reset()
		dir := t.TempDir()
		t.Chdir(dir)

		fixture := map[string]any{
			"server": map[string]any{
				"transport": "http",
				"http_port": 9999,
			},
			"provider": map[string]any{
				"command":  "/usr/local/bin/VBoxManage",
				"home_env": "VBOX_USER_HOME",
			},
			"sandbox": map[string]any{
				"poweroff_timeout_sec": 10,
				"poll_interval_ms":     100,
			},
			"logging": map[string]any{
				"mode":  "development",
				"level": "debug",
			},
		}
		data, err := yaml.Marshal(fixture)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600))

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, "http", cfg.Server.Transport)
		assert.Equal(t, 9999, cfg.Server.HTTPPort)
		assert.Equal(t, "/usr/local/bin/VBoxManage", cfg.Provider.Command)
		assert.Equal(t, 10, cfg.Sandbox.PoweroffTimeoutSec)
		assert.Equal(t, 100, cfg.Sandbox.PollIntervalMs)
		// Values absent from the file keep their defaults.
		assert.Equal(t, 5, cfg.Sandbox.WaitIntervalSec)
		assert.Equal(t, "development", cfg.Logging.Mode)
	})

	t.Run("RejectsInvalidConfigFile", func(t *testing.T) {
		viper.Reset()
		dir := t.TempDir()
		t.Chdir(dir)

		data, err := yaml.Marshal(map[string]any{
			"server": map[string]any{"transport": "smoke-signals"},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600))

		_, err = New()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation error")
	})
}
