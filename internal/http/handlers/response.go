// Package handlers implements the HTTP endpoints of the quote engine: the
// inbound mail webhook and the operator API over quote records.
//
// Every failure is written as an ErrorResponse with a stable code. Service
// and repository errors are mapped in one place (failErr) so that each
// sentinel always yields the same status.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/http/middleware"
	"github.com/tbourn/go-quote-engine/internal/repo"
	"github.com/tbourn/go-quote-engine/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"quote not found"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service or repository error to its status and code.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrQuoteNotFound), repo.IsNotFound(err):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "quote not found")
	case errors.Is(err, services.ErrInvalidFinalize):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrSourcingLimit):
		fail(c, http.StatusConflict, ErrCodeSourcingLimit, err.Error())
	case errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, services.ErrNotNegotiating):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrQueueFull):
		fail(c, http.StatusServiceUnavailable, ErrCodeQueueFull, err.Error())
	case errors.Is(err, services.ErrSourcingUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeSourcingUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
