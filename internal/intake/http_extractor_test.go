package intake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/circuitbreaker"
	"github.com/kycdesk/kycdesk/internal/retry"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/verification"
)

var fastRetry = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

func docRequest() ExtractRequest {
	return ExtractRequest{
		DocumentType: verification.DocumentAadhaar,
		Filename:     "front.png",
		Content:      []byte("\x89PNG fake"),
	}
}

func TestHTTPExtractor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "aadhaar", r.FormValue("document_type"))

		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "front.png", fh.Filename)
		assert.Equal(t, "\x89PNG fake", string(content))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"extracted_fields": map[string]string{"name": "ASHA RAO"},
			"verified_name":    "ASHA RAO",
			"fraud_score":      42,
			"risk_factors":     []string{"blur"},
		})
	}))
	defer srv.Close()

	res, err := NewHTTPExtractor(srv.URL).WithRetryPolicy(fastRetry).Extract(context.Background(), docRequest())
	require.NoError(t, err)
	assert.Equal(t, 42, res.FraudScore)
	assert.Equal(t, "ASHA RAO", res.VerifiedName)
	assert.Equal(t, []string{"blur"}, res.RiskFactors)
}

func TestHTTPExtractor_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"fraud_score": 10}`))
	}))
	defer srv.Close()

	res, err := NewHTTPExtractor(srv.URL).WithRetryPolicy(fastRetry).Extract(context.Background(), docRequest())
	require.NoError(t, err)
	assert.Equal(t, 10, res.FraudScore)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPExtractor_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTPExtractor(srv.URL).WithRetryPolicy(fastRetry).Extract(context.Background(), docRequest())
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPExtractor_OutOfRangeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fraud_score": 140}`))
	}))
	defer srv.Close()

	_, err := NewHTTPExtractor(srv.URL).WithRetryPolicy(fastRetry).Extract(context.Background(), docRequest())
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, risk.ErrInvalidScore)
}

func TestHTTPExtractor_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New("extractor-test", 2, time.Hour)
	x := NewHTTPExtractor(srv.URL).
		WithRetryPolicy(retry.Policy{Attempts: 1}).
		WithBreaker(breaker)

	for i := 0; i < 2; i++ {
		_, err := x.Extract(context.Background(), docRequest())
		assert.ErrorIs(t, err, ErrExtraction)
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := x.Extract(context.Background(), docRequest())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), calls.Load())
}
