// Package main is the entry point for the vmbox MCP server.
//
// The vmbox server exposes an isolated execution sandbox for a virtualization
// provider's management CLI over the Model Context Protocol (MCP). Each
// server owns one sandbox session with private home and work directories;
// commands run inside it with the provider's home variable redirected into
// the sandbox, and on shutdown any virtual machines the session created are
// powered off and deleted before the workspace is removed.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/vmbox/config"
	"github.com/isdmx/vmbox/logger"
	"github.com/isdmx/vmbox/mcpserver"
	"github.com/isdmx/vmbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox environment for this session
			sandbox.NewEnvironmentFromConfig,
			func(env *sandbox.Environment) mcpserver.SandboxEnvironment { return env },

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config, and tear the
		// sandbox down on shutdown.
		fx.Invoke(
			func(lc fx.Lifecycle, log *zap.Logger, env *sandbox.Environment) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						if err := env.Close(ctx); err != nil {
							log.Error("environment teardown failed", zap.Error(err))
							return err
						}
						return nil
					},
				})
			},
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
