// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// isolated sandbox as tools. It uses the mark3labs/mcp-go library to handle
// the protocol details and provides run_command, list_machines and
// cleanup_machines as the interface to one sandbox session.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/vmbox/config"
	"github.com/isdmx/vmbox/sandbox"
)

// SandboxEnvironment is the part of the sandbox the server drives.
type SandboxEnvironment interface {
	Execute(ctx context.Context, command string, args []string, opts sandbox.ExecOpts) (sandbox.Result, error)
	ListMachines(ctx context.Context) ([]sandbox.Machine, error)
	CleanupMachines(ctx context.Context) error
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	env       SandboxEnvironment
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, env SandboxEnvironment) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		env:    env,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("provider.command", s.config.Provider.Command),
		zap.String("provider.home_env", s.config.Provider.HomeEnv),
		zap.Int("sandbox.poweroff_timeout_sec", s.config.Sandbox.PoweroffTimeoutSec),
		zap.Int("sandbox.wait_interval_sec", s.config.Sandbox.WaitIntervalSec),
		zap.Int("sandbox.poll_interval_ms", s.config.Sandbox.PollIntervalMs),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("vmbox-sandbox", "An isolated VM provider CLI execution sandbox")

	s.registerRunCommandTool()
	s.registerListMachinesTool()
	s.registerCleanupMachinesTool()

	return s, nil
}

// registerRunCommandTool registers the run_command tool
func (s *MCPServer) registerRunCommandTool() {
	tool := mcp.Tool{
		Name:        "run_command",
		Description: "Run a command inside the isolated sandbox environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Command to run (resolved through the sandbox substitution table)",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command arguments (optional)",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Wall-clock timeout in seconds, 0 for unbounded (optional)",
				},
				"workdir": map[string]any{
					"type":        "string",
					"description": "Working directory override (optional, defaults to the sandbox work directory)",
				},
			},
			Required: []string{"command"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunCommand)
}

// registerListMachinesTool registers the list_machines tool
func (s *MCPServer) registerListMachinesTool() {
	tool := mcp.Tool{
		Name:        "list_machines",
		Description: "List the virtual machines the provider knows about in this sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListMachines)
}

// registerCleanupMachinesTool registers the cleanup_machines tool
func (s *MCPServer) registerCleanupMachinesTool() {
	tool := mcp.Tool{
		Name:        "cleanup_machines",
		Description: "Power off and delete every virtual machine in this sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleCleanupMachines)
}

// handleRunCommand handles the run_command tool
func (s *MCPServer) handleRunCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}

	args := request.GetStringSlice("args", nil)
	timeoutSec := request.GetInt("timeout_sec", 0)
	workdir := request.GetString("workdir", "")

	s.logger.Info("running command in sandbox",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Int("timeout_sec", timeoutSec))

	result, err := s.env.Execute(ctx, command, args, sandbox.ExecOpts{
		Dir:     workdir,
		Timeout: time.Duration(timeoutSec) * time.Second,
	})

	var timeoutErr *sandbox.TimeoutError
	if errors.As(err, &timeoutErr) {
		// The timeout itself leaves the child alive; a tool caller has
		// no handle to act on it, so reap it here before reporting.
		pid := timeoutErr.PID()
		_ = timeoutErr.Process.Kill()
		timeoutErr.Process.Wait()
		s.logger.Warn("command timed out", zap.String("command", command), zap.Int("pid", pid))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Command timed out: process %d exceeded %ds", pid, timeoutSec),
				},
			},
			IsError: true,
		}, nil
	}
	if err != nil {
		s.logger.Error("command failed to run", zap.Error(err), zap.String("command", command))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("command completed",
		zap.String("command", command),
		zap.Int("exit_status", result.ExitStatus),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	resultJSON := fmt.Sprintf(`{"stdout":%q,"stderr":%q,"exit_status":%d,"succeeded":%t}`,
		result.Stdout, result.Stderr, result.ExitStatus, result.Succeeded())

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultJSON,
			},
		},
	}, nil
}

// handleListMachines handles the list_machines tool
func (s *MCPServer) handleListMachines(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machines, err := s.env.ListMachines(ctx)
	if err != nil {
		s.logger.Error("machine listing failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Listing failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	type machineJSON struct {
		Name string `json:"name"`
		UUID string `json:"uuid"`
	}
	out := make([]machineJSON, 0, len(machines))
	for _, m := range machines {
		out = append(out, machineJSON{Name: m.Name, UUID: m.UUID})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("could not encode machine list: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

// handleCleanupMachines handles the cleanup_machines tool
func (s *MCPServer) handleCleanupMachines(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.env.CleanupMachines(ctx); err != nil {
		s.logger.Error("machine cleanup failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Cleanup failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: "All machines powered off and deleted",
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
