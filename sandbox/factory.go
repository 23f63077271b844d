package sandbox

import (
	"go.uber.org/zap"

	"github.com/isdmx/vmbox/config"
)

// NewEnvironmentFromConfig creates an Environment from the application
// configuration.
func NewEnvironmentFromConfig(logger *zap.Logger, cfg *config.Config) (*Environment, error) {
	return NewEnvironment(logger, Config{
		ProviderCommand: cfg.Provider.Command,
		ProviderHomeEnv: cfg.Provider.HomeEnv,
		PoweroffTimeout: cfg.PoweroffTimeout(),
		WaitInterval:    cfg.WaitInterval(),
		PollInterval:    cfg.PollInterval(),
	})
}
