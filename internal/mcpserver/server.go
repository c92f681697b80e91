// Package mcpserver exposes a read-only admin console over MCP.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with the console tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("dealdesk", Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolListDisputes, h.HandleListDisputes)
	s.AddTool(ToolGetDeal, h.HandleGetDeal)
	s.AddTool(ToolGetAccount, h.HandleGetAccount)
	s.AddTool(ToolReconcile, h.HandleReconcile)

	return s
}
