package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/verification"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubExtractor struct {
	result *verification.ExtractionResult
	err    error
	seen   []ExtractRequest
}

func (s *stubExtractor) Extract(_ context.Context, req ExtractRequest) (*verification.ExtractionResult, error) {
	s.seen = append(s.seen, req)
	return s.result, s.err
}

func newTestUploader(x Extractor) (*Uploader, *verification.Service, *compliance.Engine) {
	engine := compliance.NewEngine(compliance.NewMemoryStore())
	records := verification.NewService(verification.NewMemoryStore(), nil).WithAlertSync(engine)
	return NewUploader(records, x), records, engine
}

func upload(name string) UploadRequest {
	return UploadRequest{
		DocumentType:    verification.DocumentPAN,
		Filename:        name,
		UserEnteredName: "Meera Shah",
		Content:         []byte("%PDF-1.7"),
	}
}

func TestUpload_Success(t *testing.T) {
	x := &stubExtractor{result: &verification.ExtractionResult{
		ExtractedFields: map[string]string{"pan": "ABCDE1234F"},
		VerifiedName:    "MEERA SHAH",
		FraudScore:      81,
	}}
	u, records, engine := newTestUploader(x)
	ctx := context.Background()

	rec, err := u.Upload(ctx, upload("pan.pdf"))
	require.NoError(t, err)
	assert.Equal(t, verification.StatusReviewable, rec.Status)
	assert.Equal(t, 81, rec.Score())
	assert.Equal(t, "high", string(rec.RiskCategory))
	assert.Equal(t, "Meera Shah", rec.UserEnteredName)
	require.Len(t, x.seen, 1)
	assert.Equal(t, "pan.pdf", x.seen[0].Filename)

	all, err := records.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	active, err := engine.ListActive(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUpload_ExtractionFailureDiscardsRecord(t *testing.T) {
	cause := errors.New("ocr timeout")
	u, records, _ := newTestUploader(&stubExtractor{err: cause})

	_, err := u.Upload(context.Background(), upload("pan.pdf"))
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, cause)

	all, err := records.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpload_InvalidScoreDiscardsRecord(t *testing.T) {
	u, records, _ := newTestUploader(&stubExtractor{result: &verification.ExtractionResult{FraudScore: -3}})

	_, err := u.Upload(context.Background(), upload("pan.pdf"))
	assert.ErrorIs(t, err, verification.ErrValidation)

	all, _ := records.List(context.Background())
	assert.Empty(t, all)
}

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*UploadRequest)
		field string
	}{
		{"bad extension", func(r *UploadRequest) { r.Filename = "scan.gif" }, "filename"},
		{"no extension", func(r *UploadRequest) { r.Filename = "scan" }, "filename"},
		{"missing name", func(r *UploadRequest) { r.UserEnteredName = "  " }, "user_entered_name"},
		{"empty file", func(r *UploadRequest) { r.Content = nil }, "file"},
		{"too large", func(r *UploadRequest) { r.Content = make([]byte, MaxUploadSize+1) }, "file"},
		{"bad type", func(r *UploadRequest) { r.DocumentType = "passport" }, "document_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := upload("pan.pdf")
			tt.mod(&req)
			err := ValidateUpload(req)
			var ve *verification.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	ok := upload("PAN.JPEG")
	assert.NoError(t, ValidateUpload(ok))
	ok.Content = make([]byte, MaxUploadSize)
	assert.NoError(t, ValidateUpload(ok))
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, _ = part.Write(content)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandler_Upload(t *testing.T) {
	x := &stubExtractor{result: &verification.ExtractionResult{FraudScore: 12}}
	u, _, _ := newTestUploader(x)
	r := gin.New()
	NewHandler(u).RegisterRoutes(r.Group("/v1"))

	post := func(fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, fields, filename, content)
		req := httptest.NewRequest(http.MethodPost, "/v1/records/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	fields := map[string]string{"document_type": "aadhaar", "user_entered_name": "Asha Rao"}

	w := post(fields, "front.jpg", []byte("jpeg"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec verification.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "low", string(rec.RiskCategory))

	assert.Equal(t, http.StatusBadRequest, post(fields, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, post(fields, "front.bmp", []byte("x")).Code)
	assert.Equal(t, http.StatusBadRequest, post(map[string]string{"document_type": "aadhaar"}, "front.png", []byte("x")).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(fields, "big.pdf", make([]byte, MaxUploadSize+formOverhead)).Code)

	x.err = errors.New("down")
	assert.Equal(t, http.StatusBadGateway, post(fields, "front.png", []byte("png")).Code)
}

type removalSpy struct {
	saved   int
	removed []string
}

func (s *removalSpy) RecordSaved(*verification.Record) { s.saved++ }
func (s *removalSpy) RecordRemoved(id string)          { s.removed = append(s.removed, id) }

func TestUpload_FailedExtractionIsNotBroadcast(t *testing.T) {
	spy := &removalSpy{}
	u, records, _ := newTestUploader(&stubExtractor{err: errors.New("ocr timeout")})
	records.WithObserver(spy)

	_, err := u.Upload(context.Background(), upload("pan.pdf"))
	require.ErrorIs(t, err, ErrExtraction)

	assert.Zero(t, spy.saved)
	assert.Empty(t, spy.removed)
}
