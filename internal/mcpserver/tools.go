package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the kycdesk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolReviewQueue = mcp.NewTool("review_queue",
	mcp.WithDescription(
		"List identity-document records awaiting a human decision, oldest first. "+
			"Each entry shows the record ID, document type, fraud score, risk category and risk factors."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of records to return (default 20)")),
)

var ToolGetRecord = mcp.NewTool("get_record",
	mcp.WithDescription(
		"Fetch one verification record with its extracted fields, fraud score, risk factors and decision history."),
	mcp.WithString("record_id",
		mcp.Required(),
		mcp.Description("The record ID (e.g. 'rec_...')")),
)

var ToolListRecords = mcp.NewTool("list_records",
	mcp.WithDescription(
		"List verification records newest first, optionally filtered by status, risk category or document type. "+
			"Use the returned cursor to fetch the next page."),
	mcp.WithString("status",
		mcp.Description("Comma-separated statuses: pending, processing, reviewable, approved, rejected")),
	mcp.WithString("risk",
		mcp.Description("Comma-separated risk categories: low, medium, high")),
	mcp.WithString("document_type",
		mcp.Description("Document type filter"),
		mcp.Enum("aadhaar", "pan", "other")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous list_records call")),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20)")),
)

var ToolDecideRecord = mcp.NewTool("decide_record",
	mcp.WithDescription(
		"Approve or reject a record that is awaiting review. "+
			"Only records in the reviewable state can be decided; a decided record must be reopened first."),
	mcp.WithString("record_id",
		mcp.Required(),
		mcp.Description("The record ID to decide")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("The decision"),
		mcp.Enum("approve", "reject")),
)

var ToolReopenRecord = mcp.NewTool("reopen_record",
	mcp.WithDescription(
		"Return an approved or rejected record to the review queue. Reopens per record are limited."),
	mcp.WithString("record_id",
		mcp.Required(),
		mcp.Description("The record ID to reopen")),
	mcp.WithString("reason",
		mcp.Description("Why the decision is being revisited")),
)

var ToolListAlerts = mcp.NewTool("list_alerts",
	mcp.WithDescription(
		"List compliance alerts raised for risky records, newest first."),
	mcp.WithString("severity",
		mcp.Description("Severity filter (default all)"),
		mcp.Enum("all", "low", "medium", "high")),
	mcp.WithString("status",
		mcp.Description("Status filter (default active)"),
		mcp.Enum("all", "active", "resolved")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return")),
)

var ToolResolveAlert = mcp.NewTool("resolve_alert",
	mcp.WithDescription(
		"Resolve an active compliance alert after it has been investigated."),
	mcp.WithString("alert_id",
		mcp.Required(),
		mcp.Description("The alert ID (e.g. 'alert_...')")),
)

var ToolGetStats = mcp.NewTool("get_stats",
	mcp.WithDescription(
		"Get dashboard statistics: record counts by status and risk, average fraud score, "+
			"compliance score and active alert counts."),
)

var ToolGetTrends = mcp.NewTool("get_trends",
	mcp.WithDescription(
		"Get the daily record volume, average fraud score and verified count for the trailing days."),
	mcp.WithNumber("days",
		mcp.Description("Number of days including today (default 7)")),
)
