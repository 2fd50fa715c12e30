package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"milestage-backend/internal/models"
	"milestage-backend/internal/services"
	"milestage-backend/internal/webhook"
)

type AdminHandler struct {
	archive    *services.StorageService
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger
}

func NewAdminHandler(archive *services.StorageService, dispatcher *webhook.Dispatcher, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		archive:    archive,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ReplayEvent godoc
// @Summary     Replay an archived webhook event
// @Description Loads the archived payload and dispatches it again. Ledger writes are idempotent.
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Param       event_id path string true "Stripe event ID"
// @Success     200 {object} models.WebhookAck
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /admin/events/{event_id}/replay [post]
func (h *AdminHandler) ReplayEvent(c *gin.Context) {
	eventID := c.Param("event_id")

	payload, err := h.archive.Fetch(eventID)
	if errors.Is(err, services.ErrArchiveDisabled) {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "archived event not found", Message: err.Error()})
		return
	}

	event, status, err := h.dispatcher.Replay(c.Request.Context(), payload)
	if err != nil {
		respondError(c, err)
		return
	}
	if event.ID != eventID {
		h.logger.Warn("Archived payload id mismatch",
			zap.String("requested", eventID),
			zap.String("archived", event.ID),
		)
	}

	h.logger.Info("Webhook event replayed",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("status", status),
	)
	c.JSON(http.StatusOK, models.WebhookAck{Received: true, Status: status})
}
