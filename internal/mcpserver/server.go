package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all review tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("kycdesk", Version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolReviewQueue, h.HandleReviewQueue)
	s.AddTool(ToolGetRecord, h.HandleGetRecord)
	s.AddTool(ToolListRecords, h.HandleListRecords)
	s.AddTool(ToolDecideRecord, h.HandleDecideRecord)
	s.AddTool(ToolReopenRecord, h.HandleReopenRecord)
	s.AddTool(ToolListAlerts, h.HandleListAlerts)
	s.AddTool(ToolResolveAlert, h.HandleResolveAlert)
	s.AddTool(ToolGetStats, h.HandleGetStats)
	s.AddTool(ToolGetTrends, h.HandleGetTrends)

	return s
}
