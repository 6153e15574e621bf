// Package validation provides input validation helpers and middleware for the kycdesk API.
package validation

import (
	"errors"
	"net/http"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum JSON request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// recordIDRegex matches IDs minted for verification records
	recordIDRegex = regexp.MustCompile(`^rec_[a-f0-9]{24}$`)
	// alertIDRegex matches IDs minted for compliance alerts
	alertIDRegex = regexp.MustCompile(`^alert_[a-f0-9]{24}$`)
)

// structValidate is the shared validator instance for request structs.
var structValidate *validator.Validate

func init() {
	structValidate = validator.New()
	structValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidRecordID checks if a string looks like a record ID
func IsValidRecordID(id string) bool {
	return recordIDRegex.MatchString(id)
}

// IsValidAlertID checks if a string looks like an alert ID
func IsValidAlertID(id string) bool {
	return alertIDRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Struct validates a request struct using its `validate` tags.
func Struct(v interface{}) ValidationErrors {
	err := structValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "exceeds maximum of " + fe.Param()
	case "min":
		return "below minimum of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// AllowedExtension checks that a filename ends in one of the given extensions.
func AllowedExtension(field, filename string, allowed []string) func() *ValidationError {
	return func() *ValidationError {
		if filename == "" {
			return nil // Use Required for required fields
		}
		ext := strings.ToLower(filepath.Ext(filename))
		if !slices.Contains(allowed, ext) {
			return &ValidationError{Field: field, Message: "unsupported file type " + ext + " (allowed: " + strings.Join(allowed, ", ") + ")"}
		}
		return nil
	}
}

// OneOf checks that value, when set, is one of the allowed values.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || slices.Contains(allowed, value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// RecordIDParamMiddleware rejects malformed :id URL parameters on record routes.
func RecordIDParamMiddleware() gin.HandlerFunc {
	return idParamMiddleware(IsValidRecordID, "invalid_record_id", "id must be a record ID (rec_ + 24 hex chars)")
}

// AlertIDParamMiddleware rejects malformed :id URL parameters on alert routes.
func AlertIDParamMiddleware() gin.HandlerFunc {
	return idParamMiddleware(IsValidAlertID, "invalid_alert_id", "id must be an alert ID (alert_ + 24 hex chars)")
}

func idParamMiddleware(valid func(string) bool, code, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !valid(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   code,
				"message": message,
			})
			return
		}
		c.Next()
	}
}
