package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
	"milestage-backend/internal/webhook"
)

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, webhook.ErrAuthentication):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, webhook.ErrInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	resp := models.ErrorResponse{Error: http.StatusText(status)}
	switch status {
	case http.StatusNotFound:
		resp.Error = "not found"
	case http.StatusBadRequest:
		resp.Error = "invalid request"
		resp.Message = err.Error()
	case http.StatusConflict:
		resp.Error = "conflict"
	default:
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, errMsg, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: errMsg, Message: message})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name, err.Error())
		return uuid.Nil, false
	}
	return id, true
}
