package metrics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	for code, want := range map[int]string{
		100: "1xx", 200: "2xx", 204: "2xx", 302: "3xx",
		400: "4xx", 429: "4xx", 500: "5xx", 503: "5xx",
	} {
		assert.Equal(t, want, statusBucket(code), "code %d", code)
	}
}

func scrape(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestHandler_ExportsDomainMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	body := scrape(t, r)
	for _, name := range []string{
		"kycdesk_active_alerts",
		"kycdesk_active_websocket_clients",
		"kycdesk_compliance_score",
		"kycdesk_fraud_score_bucket",
	} {
		assert.Contains(t, body, name)
	}

	RecordsCreatedTotal.WithLabelValues("high").Inc()
	assert.Contains(t, scrape(t, r), `kycdesk_records_created_total{risk_category="high"}`)
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/records/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	matched := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/records/:id", "4xx")
	unmatched := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "4xx")
	beforeMatched, beforeUnmatched := testutil.ToFloat64(matched), testutil.ToFloat64(unmatched)

	for _, path := range []string{"/v1/records/rec_a", "/v1/records/rec_b", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, beforeMatched+2, testutil.ToFloat64(matched))
	assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(unmatched))
}

func TestReviewLatencyHistogram(t *testing.T) {
	ReviewLatency.WithLabelValues("approve").Observe(120)

	var m dto.Metric
	h, ok := ReviewLatency.WithLabelValues("approve").(interface{ Write(*dto.Metric) error })
	require.True(t, ok)
	require.NoError(t, h.Write(&m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

type nopConnector struct{}

func (nopConnector) Connect(context.Context) (driver.Conn, error) { return nil, errors.New("no database") }
func (nopConnector) Driver() driver.Driver                        { return nil }

func TestRegisterDB(t *testing.T) {
	db := sql.OpenDB(nopConnector{})
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RegisterDB(db))
	var dup prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, RegisterDB(db), &dup)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())
	assert.Contains(t, scrape(t, r), `go_sql_open_connections{db_name="kycdesk"}`)
}
