// Package handlers serves the orders and products API.
//
// Every error leaves through fail, so clients always receive the same
// envelope and 5xx responses are logged with the request's idempotency key.
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_amount",
//	  "message": "amount must be greater than zero"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echoes X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code    string `json:"code" example:"invalid_amount"`
	Message string `json:"message" example:"amount must be greater than zero"`
}

// fail aborts the request with the error envelope.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if key, ok := middleware.GetIdempotencyKey(c); ok {
			ev = ev.Str("idempotency_key", key)
		}
		ev.Msg(msg)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail writes the error envelope for callers outside this package, such as
// the router's NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// created answers 201 with body. When the route is a collection the
// Location header points at the new member, so a replayed create carries
// the same Location as the original one.
func created(c *gin.Context, id string, body any) {
	if base := c.FullPath(); base != "" && id != "" {
		c.Header("Location", base+"/"+id)
	}
	c.JSON(http.StatusCreated, body)
}
