// Dealdesk MCP console - read-only admin tools for triaging disputes over MCP
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/dealdesk/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("DEALDESK_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("DEALDESK_API_KEY"),
		AdminID: envOrDefault("DEALDESK_ADMIN_ID", "admin"),
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
