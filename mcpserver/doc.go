// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes one isolated sandbox session over MCP. The
// run_command tool executes a command inside the sandbox environment with an
// optional timeout and working directory, list_machines reports the virtual
// machines the provider currently knows about, and cleanup_machines powers
// off and deletes all of them.
//
// The server supports stdio and streamable HTTP transports.
//
// Usage:
//
//	srv, err := mcpserver.New(cfg, logger, env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.ServeStdio()
package mcpserver
