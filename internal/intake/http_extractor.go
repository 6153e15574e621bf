package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/kycdesk/kycdesk/internal/circuitbreaker"
	"github.com/kycdesk/kycdesk/internal/retry"
	"github.com/kycdesk/kycdesk/internal/risk"
	"github.com/kycdesk/kycdesk/internal/verification"
)

const (
	defaultExtractTimeout = 30 * time.Second
	maxResponseSize       = 1 << 20
)

// HTTPExtractor calls an OCR and fraud scoring service over HTTP. The
// document is posted as multipart form data and the service answers with a
// JSON ExtractionResult.
type HTTPExtractor struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
}

// NewHTTPExtractor creates an extractor for the service at url.
func NewHTTPExtractor(url string) *HTTPExtractor {
	return &HTTPExtractor{
		url:     url,
		client:  &http.Client{Timeout: defaultExtractTimeout},
		breaker: circuitbreaker.New("extractor", 5, 30*time.Second),
		policy:  retry.DefaultPolicy,
	}
}

// WithHTTPClient replaces the HTTP client.
func (x *HTTPExtractor) WithHTTPClient(c *http.Client) *HTTPExtractor {
	x.client = c
	return x
}

// WithRetryPolicy replaces the retry policy.
func (x *HTTPExtractor) WithRetryPolicy(p retry.Policy) *HTTPExtractor {
	x.policy = p
	return x
}

// WithBreaker replaces the circuit breaker.
func (x *HTTPExtractor) WithBreaker(b *circuitbreaker.Breaker) *HTTPExtractor {
	x.breaker = b
	return x
}

// Extract implements Extractor.
func (x *HTTPExtractor) Extract(ctx context.Context, req ExtractRequest) (*verification.ExtractionResult, error) {
	body, contentType, err := encodeDocument(req)
	if err != nil {
		return nil, &ExtractionError{Filename: req.Filename, Err: err}
	}

	var result *verification.ExtractionResult
	err = retry.Do(ctx, x.policy, func(ctx context.Context) error {
		err := x.breaker.Execute(func() error {
			var callErr error
			result, callErr = x.call(ctx, body, contentType)
			return callErr
		}, countable)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, &ExtractionError{Filename: req.Filename, Err: err}
	}
	return result, nil
}

func (x *HTTPExtractor) call(ctx context.Context, body []byte, contentType string) (*verification.ExtractionResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("extractor returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("extractor rejected document: %d", resp.StatusCode))
	}

	var res verification.ExtractionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if !risk.ValidScore(res.FraudScore) {
		return nil, retry.Permanent(&risk.InvalidScoreError{Score: res.FraudScore})
	}
	return &res, nil
}

// countable reports whether err reflects the health of the extractor.
// Rejections of a specific document do not trip the breaker.
func countable(err error) bool {
	var pe *retry.PermanentError
	return !errors.As(err, &pe)
}

func encodeDocument(req ExtractRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("document_type", string(req.DocumentType)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
