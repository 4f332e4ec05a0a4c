// Package handlers provides the HTTP handlers of the public API.
//
// This file holds the response helpers shared by every endpoint. Failures
// always use ErrorResponse with a stable code; fail() logs 5xx with the
// request-scoped logger. failErr() is the single place where service and
// domain errors are translated into statuses.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "pantry was changed by another request; reload and retry"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/extract"
	"github.com/tbourn/scan2serve/internal/http/middleware"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/services"
	"github.com/tbourn/scan2serve/internal/upstream"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID, for correlating with server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to show to users
	Message string `json:"message" example:"table not found"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps err onto a status and code. Unknown errors become 500 with a
// generic message; their text only reaches the log.
func failErr(c *gin.Context, err error) {
	var ue *upstream.Error
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
	case errors.Is(err, services.ErrTableNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "table not found")
	case errors.Is(err, editing.ErrRowNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "row not found")
	case errors.Is(err, editing.ErrNotEditing):
		fail(c, http.StatusConflict, ErrCodeConflict, "row is not being edited")
	case errors.Is(err, services.ErrNotReceiptTable):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, pantry.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, "pantry was changed by another request; reload and retry")
	case errors.Is(err, editing.ErrBlankName), errors.Is(err, pantry.ErrBlankName):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, "item name must not be blank")
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
	case errors.Is(err, extract.ErrUnsupportedMedia):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia, "image must be JPEG, PNG, WebP or HEIC")
	case errors.Is(err, extract.ErrEmptyImage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image is empty")
	case errors.As(err, &ue):
		// The upstream message is already user-facing.
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, ue.Message)
	case errors.Is(err, services.ErrUpstream):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "upstream service failed")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
