package intake

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kycdesk/kycdesk/internal/validation"
	"github.com/kycdesk/kycdesk/internal/verification"
)

// multipart overhead allowed on top of the file itself
const formOverhead = 64 << 10

// Handler serves document uploads.
type Handler struct {
	uploader *Uploader
}

// NewHandler creates an upload handler.
func NewHandler(uploader *Uploader) *Handler {
	return &Handler{uploader: uploader}
}

// RegisterRoutes sets up the upload route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/records/upload", validation.RequestSizeMiddleware(MaxUploadSize+formOverhead), h.Upload)
}

// Upload handles POST /v1/records/upload
//
// Multipart fields: file, document_type, user_entered_name.
func (h *Handler) Upload(c *gin.Context) {
	if c.Request.ContentLength > MaxUploadSize+formOverhead {
		tooLarge(c)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Multipart field 'file' is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("document_type", c.PostForm("document_type")),
		validation.OneOf("document_type", c.PostForm("document_type"), "aadhaar", "pan", "other"),
		validation.Required("user_entered_name", c.PostForm("user_entered_name")),
		validation.AllowedExtension("file", fh.Filename, AllowedExtensions),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	if fh.Size > MaxUploadSize {
		tooLarge(c)
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read uploaded file",
		})
		return
	}
	defer func() { _ = f.Close() }()
	content, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read uploaded file",
		})
		return
	}

	rec, err := h.uploader.Upload(c.Request.Context(), UploadRequest{
		DocumentType:    verification.DocumentType(c.PostForm("document_type")),
		Filename:        validation.SanitizeString(fh.Filename, 255),
		UserEnteredName: validation.SanitizeString(c.PostForm("user_entered_name"), 200),
		Content:         content,
	})
	if err != nil {
		if errors.Is(err, ErrExtraction) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "extraction_failed",
				"message": "Document could not be processed. Please try again.",
			})
			return
		}
		verification.WriteError(c, err, "Failed to upload document")
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error":   "file_too_large",
		"message": "File exceeds 5 MB",
	})
}
