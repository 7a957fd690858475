// Package mcp defines the interface for a Model Context Protocol (MCP) host
// used to expose externally registered "data action" tools to the
// model-provider session, as configured by a carrier's optional remote
// tool-server configuration (see spec §6, inputVariables).
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each configured MCP server.
//  2. Optionally call RegisterBuiltin on the concrete mcphost.Host for
//     in-process tools (it is not part of this interface; the call-control
//     tools are handled by internal/tooldispatch, not registered here).
//  3. Use [Host.AvailableTools] to enumerate tools valid for a budget tier.
//  4. Use [Host.ExecuteTool] to run a tool on behalf of a session.
//  5. Call [Host.Close] to release all connections.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/coraltel/audiohookbridge/pkg/types"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server, as parsed
// from a carrier's remote tool-server configuration JSON.
type ServerConfig struct {
	// Name is a human-readable identifier, unique within a single Host.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable path (and optional arguments) used when
	// Transport is TransportStdio.
	Command string

	// URL is the endpoint address used when Transport is TransportStreamableHTTP.
	URL string

	// Env holds additional environment variables injected into the server
	// process when Transport is TransportStdio. May be nil.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, typically a JSON string ready
	// for insertion into the session's function-call-output.
	Content string

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport/protocol failure returned via the Go error
	// return value).
	IsError bool

	// DurationMs is the wall-clock execution time.
	DurationMs int64
}

// Host manages connections to MCP servers, routes tool calls, and tracks
// per-tool latency for budget-tier assignment.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue. If a server with the same Name is already
	// registered, the old connection is closed and replaced.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// AvailableTools returns all tools whose assigned [types.BudgetTier] is
	// <= tier, sorted by estimated latency ascending (fastest first).
	AvailableTools(tier types.BudgetTier) []types.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args and returns the
	// result. A non-nil *ToolResult is returned on success even when
	// [ToolResult.IsError] is true; a Go error is returned only on transport
	// or protocol failure.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Close shuts down all server connections and releases resources. After
	// Close returns the Host must not be used again.
	Close() error
}
