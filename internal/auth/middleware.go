// Package auth gates admin review routes behind a shared secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAdminSecret carries the shared admin secret.
	HeaderAdminSecret = "X-Admin-Secret"
	// HeaderReviewer names the person acting on the request.
	HeaderReviewer = "X-Reviewer"

	// ContextKeyReviewer is the key for storing the acting reviewer in gin context
	ContextKeyReviewer = "authReviewer"

	// DefaultReviewer is used when no reviewer header is sent.
	DefaultReviewer = "admin"

	maxReviewerLength = 120
)

// RequireAdmin rejects requests without the admin secret. An empty secret
// leaves the routes open, which config only allows outside production.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			given := c.GetHeader(HeaderAdminSecret)
			if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Admin secret required. Include 'X-Admin-Secret' header.",
				})
				return
			}
		}

		c.Set(ContextKeyReviewer, reviewerFrom(c))
		c.Next()
	}
}

// Reviewer returns the acting reviewer for an admin request.
func Reviewer(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyReviewer); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultReviewer
}

func reviewerFrom(c *gin.Context) string {
	r := strings.TrimSpace(c.GetHeader(HeaderReviewer))
	if r == "" {
		return DefaultReviewer
	}
	if len(r) > maxReviewerLength {
		r = r[:maxReviewerLength]
	}
	return r
}
