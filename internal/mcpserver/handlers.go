package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/stats"
	"github.com/kycdesk/kycdesk/internal/verification"
)

const defaultListLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleReviewQueue lists records awaiting review.
func (h *Handlers) HandleReviewQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := h.client.ReviewQueue(ctx, req.GetInt("limit", defaultListLimit))
	if err != nil {
		return toolError("Failed to load review queue", err), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("The review queue is empty."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d record(s) awaiting review:\n\n", len(records))
	writeRecordList(&sb, records)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetRecord shows one record in full.
func (h *Handlers) HandleGetRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("record_id", "")
	if id == "" {
		return mcp.NewToolResultError("record_id is required"), nil
	}

	rec, err := h.client.GetRecord(ctx, id)
	if err != nil {
		return toolError("Failed to get record", err), nil
	}
	return mcp.NewToolResultText(formatRecord(rec)), nil
}

// HandleListRecords lists records with optional filters.
func (h *Handlers) HandleListRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := h.client.ListRecords(ctx, RecordQuery{
		Status:       req.GetString("status", ""),
		Risk:         req.GetString("risk", ""),
		DocumentType: req.GetString("document_type", ""),
		Cursor:       req.GetString("cursor", ""),
		Limit:        req.GetInt("limit", defaultListLimit),
	})
	if err != nil {
		return toolError("Failed to list records", err), nil
	}
	if len(page.Records) == 0 {
		return mcp.NewToolResultText("No records found matching your criteria."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d record(s):\n\n", len(page.Records))
	writeRecordList(&sb, page.Records)
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore records available. Next cursor: %s\n", page.NextCursor)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDecideRecord approves or rejects a record.
func (h *Handlers) HandleDecideRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("record_id", "")
	if id == "" {
		return mcp.NewToolResultError("record_id is required"), nil
	}
	action := verification.Action(req.GetString("action", ""))
	if action != verification.ActionApprove && action != verification.ActionReject {
		return mcp.NewToolResultError("action must be 'approve' or 'reject'"), nil
	}

	rec, err := h.client.Decide(ctx, id, action)
	if err != nil {
		return toolError("Failed to record decision", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Record %s is now %s.\n\n%s", rec.ID, rec.Status, formatRecord(rec))), nil
}

// HandleReopenRecord returns a decided record to review.
func (h *Handlers) HandleReopenRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("record_id", "")
	if id == "" {
		return mcp.NewToolResultError("record_id is required"), nil
	}

	rec, err := h.client.Reopen(ctx, id, req.GetString("reason", ""))
	if err != nil {
		return toolError("Failed to reopen record", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Record %s reopened (reopen %d).", rec.ID, rec.ReopenCount)), nil
}

// HandleListAlerts lists compliance alerts.
func (h *Handlers) HandleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alerts, err := h.client.ListAlerts(ctx,
		req.GetString("severity", ""),
		req.GetString("status", ""),
		req.GetInt("limit", 0),
	)
	if err != nil {
		return toolError("Failed to list alerts", err), nil
	}
	if len(alerts) == 0 {
		return mcp.NewToolResultText("No alerts found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d alert(s):\n\n", len(alerts))
	for i, a := range alerts {
		fmt.Fprintf(&sb, "%d. %s [%s, %s]\n", i+1, a.ID, strings.ToUpper(string(a.Severity)), a.Status)
		fmt.Fprintf(&sb, "   Record: %s | Score: %d\n", a.RecordID, a.ConfidenceScore)
		fmt.Fprintf(&sb, "   %s\n", a.Message)
		if a.Status == compliance.StatusResolved {
			fmt.Fprintf(&sb, "   Resolved: %s", a.Resolution)
			if a.ResolvedBy != "" {
				fmt.Fprintf(&sb, " by %s", a.ResolvedBy)
			}
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleResolveAlert resolves an alert.
func (h *Handlers) HandleResolveAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("alert_id", "")
	if id == "" {
		return mcp.NewToolResultError("alert_id is required"), nil
	}

	a, err := h.client.ResolveAlert(ctx, id)
	if err != nil {
		return toolError("Failed to resolve alert", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Alert %s on record %s resolved.", a.ID, a.RecordID)), nil
}

// HandleGetStats summarizes the dashboard aggregate.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.client.Stats(ctx)
	if err != nil {
		return toolError("Failed to get stats", err), nil
	}
	return mcp.NewToolResultText(formatStats(s)), nil
}

// HandleGetTrends shows the daily trend series.
func (h *Handlers) HandleGetTrends(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	points, err := h.client.Trends(ctx, req.GetInt("days", 0))
	if err != nil {
		return toolError("Failed to get trends", err), nil
	}

	var sb strings.Builder
	sb.WriteString("Date        Records  Avg score  Verified\n")
	for _, p := range points {
		fmt.Fprintf(&sb, "%s  %7d  %9.2f  %8d\n", p.Date, p.Records, p.AverageFraudScore, p.VerifiedCount)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return mcp.NewToolResultError(prefix + ": admin secret rejected, check KYCDESK_ADMIN_SECRET")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func writeRecordList(sb *strings.Builder, records []*verification.Record) {
	for i, r := range records {
		fmt.Fprintf(sb, "%d. %s (%s, %s)\n", i+1, r.ID, r.DocumentType, r.Status)
		if r.IsScored() {
			fmt.Fprintf(sb, "   Score: %d | Risk: %s\n", r.Score(), r.RiskCategory)
		}
		if len(r.RiskFactors) > 0 {
			fmt.Fprintf(sb, "   Factors: %s\n", strings.Join(r.RiskFactors, ", "))
		}
	}
}

func formatRecord(r *verification.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Record %s\n", r.ID)
	fmt.Fprintf(&sb, "  Document: %s (%s)\n", r.DocumentType, r.Filename)
	fmt.Fprintf(&sb, "  Status: %s\n", r.Status)
	if r.IsScored() {
		fmt.Fprintf(&sb, "  Fraud score: %d (%s risk)\n", r.Score(), r.RiskCategory)
	}
	if len(r.RiskFactors) > 0 {
		fmt.Fprintf(&sb, "  Risk factors: %s\n", strings.Join(r.RiskFactors, ", "))
	}
	if r.UserEnteredName != "" {
		fmt.Fprintf(&sb, "  Entered name: %s\n", r.UserEnteredName)
	}
	if r.VerifiedName != "" {
		fmt.Fprintf(&sb, "  Verified name: %s\n", r.VerifiedName)
	}
	if r.DecidedBy != "" {
		fmt.Fprintf(&sb, "  Decided by: %s\n", r.DecidedBy)
	}
	if r.ReopenCount > 0 {
		fmt.Fprintf(&sb, "  Reopened: %d time(s)\n", r.ReopenCount)
	}
	return sb.String()
}

func formatStats(s *stats.AggregateStats) string {
	var sb strings.Builder
	sb.WriteString("Verification stats:\n")
	fmt.Fprintf(&sb, "  Total records: %d\n", s.TotalRecords)
	fmt.Fprintf(&sb, "  Verified: %d | Pending review: %d | Rejected: %d\n", s.VerifiedCount, s.PendingReviewCount, s.RejectedCount)
	fmt.Fprintf(&sb, "  Risk: %d low, %d medium, %d high\n", s.LowRiskCount, s.MediumRiskCount, s.HighRiskCount)
	fmt.Fprintf(&sb, "  Average fraud score: %.2f\n", s.AverageConfidenceScore)
	fmt.Fprintf(&sb, "  Compliance score: %d/100\n", s.ComplianceScore)
	fmt.Fprintf(&sb, "  Active alerts: %d (%d in the last 24h)\n", s.ActiveAlerts, s.RecentAlerts24h)
	return sb.String()
}
