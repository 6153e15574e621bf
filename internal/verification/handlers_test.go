package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(svc *Service) *gin.Engine {
	r := gin.New()
	h := NewHandler(svc)
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterAdminRoutes(v1.Group("/admin"))
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGet(t *testing.T) {
	svc, _, _ := newTestService()
	r := setupRouter(svc)

	w := doJSON(r, http.MethodPost, "/v1/records", map[string]interface{}{
		"document_type":    "pan",
		"filename":         "pan_card.jpg",
		"verified_name":    "MEERA SHAH",
		"fraud_score":      72,
		"risk_factors":     []string{"tampered-photo"},
		"extracted_fields": map[string]string{"pan": "ABCDE1234F"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "high", string(rec.RiskCategory))
	assert.Equal(t, StatusReviewable, rec.Status)

	w = doJSON(r, http.MethodGet, "/v1/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/records/rec_000000000000000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/records/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	r := setupRouter(svc)

	w := doJSON(r, http.MethodPost, "/v1/records", map[string]interface{}{
		"document_type": "passport",
		"filename":      "x.png",
		"fraud_score":   120,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body["error"])

	w = doJSON(r, http.MethodPost, "/v1/records", map[string]interface{}{
		"document_type": "pan",
		"filename":      "x.png",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListPaginationAndFilters(t *testing.T) {
	svc, _, _ := newTestService()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	var clock time.Time
	svc.WithClock(func() time.Time { return clock })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Hour)
		_, err := svc.Create(ctx, createReq(20*i))
		require.NoError(t, err)
	}
	r := setupRouter(svc)

	w := doJSON(r, http.MethodGet, "/v1/records?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Records    []*Record `json:"records"`
		Count      int       `json:"count"`
		NextCursor string    `json:"next_cursor"`
		HasMore    bool      `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, 80, page.Records[0].Score())

	w = doJSON(r, http.MethodGet, "/v1/records?limit=10&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Count)
	assert.False(t, page.HasMore)

	w = doJSON(r, http.MethodGet, "/v1/records?risk=high,medium", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Count) // 40, 60, 80

	w = doJSON(r, http.MethodGet, "/v1/records?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/records?to=2026-03-31", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 0, page.Count)
}

func TestHandler_Delete(t *testing.T) {
	svc, _, _ := newTestService()
	rec, err := svc.Create(context.Background(), createReq(10))
	require.NoError(t, err)
	r := setupRouter(svc)

	w := doJSON(r, http.MethodDelete, "/v1/admin/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/v1/admin/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
