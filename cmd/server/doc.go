// Package main is the entry point for the vmbox MCP server.
//
// The vmbox server exposes an isolated execution sandbox for a virtualization
// provider's management CLI over the Model Context Protocol (MCP). It supports
// both stdio and HTTP transports and guarantees that virtual machines created
// during a session do not outlive it.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
