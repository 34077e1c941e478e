package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeUnauthenticated     = "unauthenticated"
	codeForbidden           = "forbidden"
	codeIdempotencyReused   = "idempotency_key_reused"
	codeIdempotencyInFlight = "request_in_progress"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error: msg,
		Code:  code,
	})
}

// writeServiceError maps an error returned by the catalog or ledger onto a status and a stable code.
// Anything that is not a known rejection is reported as an opaque internal error.
func writeServiceError(c *gin.Context, err error) {
	if !domain.IsRejection(err) {
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, codeInternalError, "internal error")
		return
	}
	writeError(c, statusFor(err), domain.Reason(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuantityExceedsPerTxLimit),
		errors.Is(err, domain.ErrIncorrectPayment):
		return http.StatusUnprocessableEntity
	default:
		// Sold out, inactive, per-user cap, event started, already used, outside window.
		return http.StatusConflict
	}
}
