// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure is written as an ErrorResponse with a stable code from
// errors.go. 5xx responses never carry the underlying error text; it goes to
// the request log instead, keyed by the same request id the client sees.
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "user not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"user not found"`
}

func requestID(c *gin.Context) string {
	if rid := c.Writer.Header().Get("X-Request-ID"); rid != "" {
		return rid
	}
	return middleware.RequestIDFrom(c)
}

// fail aborts with the envelope. 5xx are logged with the request logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// failInternal logs err and answers 500 with a generic message.
func failInternal(c *gin.Context, code string, err error) {
	middleware.LoggerFrom(c).Error().Err(err).Str("code", code).Msg("api error")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   "internal server error",
	})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
