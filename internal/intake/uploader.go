package intake

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/traces"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// UploadRequest is a document received from a user.
type UploadRequest struct {
	DocumentType    verification.DocumentType
	Filename        string
	UserEnteredName string
	Content         []byte
}

// Uploader registers uploaded documents and drives them through extraction.
type Uploader struct {
	records   *verification.Service
	extractor Extractor
	logger    *slog.Logger
}

// NewUploader creates an uploader.
func NewUploader(records *verification.Service, extractor Extractor) *Uploader {
	return &Uploader{records: records, extractor: extractor, logger: slog.Default()}
}

// WithLogger sets the uploader logger.
func (u *Uploader) WithLogger(l *slog.Logger) *Uploader {
	u.logger = l
	return u
}

// Upload validates the document, creates a pending record, runs extraction,
// and returns the reviewable record. If extraction fails the pending record
// is removed and the error matches ErrExtraction.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*verification.Record, error) {
	ctx, span := traces.StartSpan(ctx, "intake.Upload",
		traces.DocumentType(string(req.DocumentType)),
		traces.SizeBytes(len(req.Content)),
	)
	defer span.End()

	if err := ValidateUpload(req); err != nil {
		return nil, err
	}

	rec, err := u.records.Submit(ctx, verification.SubmitRequest{
		DocumentType:    req.DocumentType,
		Filename:        req.Filename,
		UserEnteredName: req.UserEnteredName,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.RecordID(rec.ID))

	if _, err := u.records.StartProcessing(ctx, rec.ID); err != nil {
		u.discard(ctx, rec.ID)
		return nil, err
	}

	start := time.Now()
	res, err := u.extractor.Extract(ctx, ExtractRequest{
		DocumentType: req.DocumentType,
		Filename:     rec.Filename,
		Content:      req.Content,
	})
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExtractionFailuresTotal.Inc()
		_ = traces.Fail(span, err, "extraction failed")
		u.logger.Warn("document extraction failed", "record_id", rec.ID, "filename", rec.Filename, "error", err)
		u.discard(ctx, rec.ID)
		return nil, &ExtractionError{Filename: rec.Filename, Err: err}
	}

	done, err := u.records.CompleteExtraction(ctx, rec.ID, *res)
	if err != nil {
		u.discard(ctx, rec.ID)
		return nil, traces.Fail(span, err, "complete extraction failed")
	}
	return done, nil
}

// ValidateUpload checks the document against upload constraints.
func ValidateUpload(req UploadRequest) error {
	if !req.DocumentType.Valid() {
		return &verification.ValidationError{Field: "document_type", Message: "must be one of aadhaar, pan, other"}
	}
	if strings.TrimSpace(req.UserEnteredName) == "" {
		return &verification.ValidationError{Field: "user_entered_name", Message: "is required"}
	}
	if len(req.Content) == 0 {
		return &verification.ValidationError{Field: "file", Message: "is empty"}
	}
	if len(req.Content) > MaxUploadSize {
		return &verification.ValidationError{Field: "file", Message: "exceeds 5 MB"}
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return &verification.ValidationError{Field: "filename", Message: "must be a PDF, PNG, or JPEG file"}
}

// discard removes a record that never reached review. The caller's error
// wins; a failed cleanup is only logged.
func (u *Uploader) discard(ctx context.Context, id string) {
	if err := u.records.Discard(context.WithoutCancel(ctx), id); err != nil {
		u.logger.Error("failed to discard unfinished record", "record_id", id, "error", err)
	}
}
