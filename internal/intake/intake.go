// Package intake accepts uploaded identity documents and runs them through
// the external extraction service before they enter review.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/kycdesk/kycdesk/internal/verification"
)

// MaxUploadSize is the largest accepted document, in bytes.
const MaxUploadSize = 5 << 20

// AllowedExtensions lists the accepted document file extensions.
var AllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg"}

// ErrExtraction is matched by every extraction failure.
var ErrExtraction = errors.New("document extraction failed")

// ExtractRequest is a document handed to the extractor.
type ExtractRequest struct {
	DocumentType verification.DocumentType
	Filename     string
	Content      []byte
}

// Extractor turns a document into extracted fields and a fraud score.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*verification.ExtractionResult, error)
}

// ExtractionError carries the cause of a failed extraction.
type ExtractionError struct {
	Filename string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction of %q failed: %v", e.Filename, e.Err)
}

// Unwrap matches both ErrExtraction and the underlying cause.
func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtraction, e.Err}
}
