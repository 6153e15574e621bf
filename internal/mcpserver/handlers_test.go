package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/auth"
	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/review"
	"github.com/kycdesk/kycdesk/internal/stats"
	"github.com/kycdesk/kycdesk/internal/verification"
)

const testSecret = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// stack is an in-memory API wired like the real server.
type stack struct {
	records *verification.Service
	engine  *compliance.Engine
	h       *Handlers
}

func newStack(t *testing.T) *stack {
	t.Helper()
	engine := compliance.NewEngine(compliance.NewMemoryStore())
	records := verification.NewService(verification.NewMemoryStore(), nil).WithAlertSync(engine)
	controller := review.NewController(records)
	statsSvc := stats.NewService(records, engine)

	r := gin.New()
	v1 := r.Group("/v1")
	verification.NewHandler(records).RegisterRoutes(v1)
	compliance.NewHandler(engine).RegisterRoutes(v1)
	stats.NewHandler(statsSvc).RegisterRoutes(v1)

	admin := v1.Group("/admin", auth.RequireAdmin(testSecret))
	verification.NewHandler(records).RegisterAdminRoutes(admin)
	compliance.NewHandler(engine).RegisterAdminRoutes(admin)
	review.NewHandler(controller).RegisterAdminRoutes(admin)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	client := NewClient(Config{APIURL: ts.URL, AdminSecret: testSecret, Reviewer: "assistant"})
	return &stack{records: records, engine: engine, h: NewHandlers(client)}
}

func (s *stack) create(t *testing.T, score int) *verification.Record {
	t.Helper()
	rec, err := s.records.Create(context.Background(), verification.CreateRequest{
		DocumentType: verification.DocumentPAN,
		Filename:     "pan.jpg",
		FraudScore:   &score,
		RiskFactors:  []string{"font-mismatch"},
	})
	require.NoError(t, err)
	return rec
}

func TestReviewQueueAndDecide(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	low := s.create(t, 10)
	high := s.create(t, 90)

	result, err := s.h.HandleReviewQueue(ctx, makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "2 record(s) awaiting review")
	assert.Less(t, strings.Index(text, low.ID), strings.Index(text, high.ID))
	assert.Contains(t, text, "font-mismatch")

	result, err = s.h.HandleDecideRecord(ctx, makeRequest(map[string]any{
		"record_id": high.ID,
		"action":    "reject",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "is now rejected")

	got, err := s.records.Get(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, "assistant", got.DecidedBy)

	// Deciding twice is refused by the API.
	result, err = s.h.HandleDecideRecord(ctx, makeRequest(map[string]any{
		"record_id": high.ID,
		"action":    "approve",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "409")

	result, err = s.h.HandleReopenRecord(ctx, makeRequest(map[string]any{"record_id": high.ID, "reason": "second look"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "reopen 1")
}

func TestDecideRecord_ArgumentValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	result, err := s.h.HandleDecideRecord(ctx, makeRequest(map[string]any{"action": "approve"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.h.HandleDecideRecord(ctx, makeRequest(map[string]any{"record_id": "rec_x", "action": "maybe"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "approve")
}

func TestGetRecord(t *testing.T) {
	s := newStack(t)
	rec := s.create(t, 55)

	result, err := s.h.HandleGetRecord(context.Background(), makeRequest(map[string]any{"record_id": rec.ID}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Fraud score: 55 (medium risk)")
	assert.Contains(t, text, "pan.jpg")

	result, err = s.h.HandleGetRecord(context.Background(), makeRequest(map[string]any{"record_id": "rec_000000000000000000000000"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "404")
}

func TestListRecords_Pagination(t *testing.T) {
	s := newStack(t)
	for i := 0; i < 3; i++ {
		s.create(t, 20*i)
	}

	result, err := s.h.HandleListRecords(context.Background(), makeRequest(map[string]any{"limit": float64(2)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 record(s)")
	assert.Contains(t, text, "Next cursor:")

	result, err = s.h.HandleListRecords(context.Background(), makeRequest(map[string]any{"risk": "high"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No records found")
}

func TestAlertsAndStats(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	rec := s.create(t, 85)
	s.create(t, 5)

	result, err := s.h.HandleListAlerts(ctx, makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 alert(s)")
	assert.Contains(t, text, rec.ID)
	assert.Contains(t, text, "HIGH")

	alerts, err := s.engine.ListActive(ctx, nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	result, err = s.h.HandleGetStats(ctx, makeRequest(nil))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Contains(t, text, "Total records: 2")
	assert.Contains(t, text, "Active alerts: 1")
	assert.Contains(t, text, "Compliance score: 50/100")

	result, err = s.h.HandleResolveAlert(ctx, makeRequest(map[string]any{"alert_id": alerts[0].ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = s.h.HandleListAlerts(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No alerts found")

	result, err = s.h.HandleGetTrends(ctx, makeRequest(map[string]any{"days": float64(3)}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Avg score")
}

func TestClient_AdminSecretRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wrong", r.Header.Get(auth.HeaderAdminSecret))
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized", "message": "Admin access required"})
	}))
	defer ts.Close()

	h := NewHandlers(NewClient(Config{APIURL: ts.URL, AdminSecret: "wrong"}))
	result, err := h.HandleReviewQueue(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "KYCDESK_ADMIN_SECRET")
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).Stats(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	_, err := NewClient(Config{APIURL: "http://127.0.0.1:1"}).Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))
}
