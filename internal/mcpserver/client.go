package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kycdesk/kycdesk/internal/auth"
	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/stats"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// maxResponseSize bounds API responses read by the client.
const maxResponseSize = 4 << 20

// Config holds the configuration for connecting to the kycdesk API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Sent as X-Admin-Secret on admin routes
	Reviewer    string // Recorded as decided_by on decisions
}

// Client is a thin HTTP client for the kycdesk API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Code)
}

// RecordPage is one page of GET /v1/records.
type RecordPage struct {
	Records    []*verification.Record `json:"records"`
	Count      int                    `json:"count"`
	NextCursor string                 `json:"next_cursor"`
	HasMore    bool                   `json:"has_more"`
}

// RecordQuery filters ListRecords. Empty fields are omitted.
type RecordQuery struct {
	Status       string
	Risk         string
	DocumentType string
	Cursor       string
	Limit        int
}

func (q RecordQuery) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("status", q.Status)
	set("risk", q.Risk)
	set("document_type", q.DocumentType)
	set("cursor", q.Cursor)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AdminSecret != "" {
		req.Header.Set(auth.HeaderAdminSecret, c.cfg.AdminSecret)
	}
	if c.cfg.Reviewer != "" {
		req.Header.Set(auth.HeaderReviewer, c.cfg.Reviewer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ReviewQueue returns records awaiting a decision, oldest first.
func (c *Client) ReviewQueue(ctx context.Context, limit int) ([]*verification.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Records []*verification.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/queue", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// GetRecord fetches one record.
func (c *Client) GetRecord(ctx context.Context, id string) (*verification.Record, error) {
	var rec verification.Record
	if err := c.do(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords lists records newest first.
func (c *Client) ListRecords(ctx context.Context, q RecordQuery) (*RecordPage, error) {
	var page RecordPage
	if err := c.do(ctx, http.MethodGet, "/v1/records", q.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Decide approves or rejects a reviewable record.
func (c *Client) Decide(ctx context.Context, id string, action verification.Action) (*verification.Record, error) {
	var rec verification.Record
	body := verification.DecideRequest{Action: action}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/records/"+url.PathEscape(id)+"/decision", nil, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reopen returns a decided record to the review queue.
func (c *Client) Reopen(ctx context.Context, id, reason string) (*verification.Record, error) {
	var rec verification.Record
	body := verification.ReopenRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/records/"+url.PathEscape(id)+"/reopen", nil, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAlerts lists compliance alerts. Empty severity or status use the
// server defaults.
func (c *Client) ListAlerts(ctx context.Context, severity, status string, limit int) ([]*compliance.Alert, error) {
	q := url.Values{}
	if severity != "" {
		q.Set("severity", severity)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Alerts []*compliance.Alert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

// ResolveAlert resolves an active alert.
func (c *Client) ResolveAlert(ctx context.Context, id string) (*compliance.Alert, error) {
	var a compliance.Alert
	if err := c.do(ctx, http.MethodPost, "/v1/admin/alerts/"+url.PathEscape(id)+"/resolve", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Stats returns the dashboard aggregate.
func (c *Client) Stats(ctx context.Context) (*stats.AggregateStats, error) {
	var s stats.AggregateStats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Trends returns the daily series for the trailing days.
func (c *Client) Trends(ctx context.Context, days int) ([]stats.TrendPoint, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var resp struct {
		Trends []stats.TrendPoint `json:"trends"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/stats/trends", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trends, nil
}
