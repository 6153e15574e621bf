// Command mcp exposes the kycdesk review desk as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kycdesk/kycdesk/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:      envOrDefault("KYCDESK_API_URL", "http://localhost:8080"),
		AdminSecret: os.Getenv("KYCDESK_ADMIN_SECRET"),
		Reviewer:    envOrDefault("KYCDESK_REVIEWER", "mcp"),
	}

	if cfg.AdminSecret == "" {
		fmt.Fprintln(os.Stderr, "warning: KYCDESK_ADMIN_SECRET is not set, admin tools only work against a development server")
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
