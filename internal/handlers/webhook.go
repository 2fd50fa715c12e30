package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"milestage-backend/internal/models"
	"milestage-backend/internal/webhook"
)

type WebhookHandler struct {
	receiver *webhook.Receiver
	logger   *zap.Logger
}

func NewWebhookHandler(receiver *webhook.Receiver, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		receiver: receiver,
		logger:   logger,
	}
}

// HandleWebhook godoc
// @Summary     Stripe webhook endpoint
// @Description Receives Stripe events. The raw body is authenticated with the Stripe-Signature header.
// @Description Events naming a missing stage or carrying invalid data are acknowledged with status "failed".
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature header string true "Stripe signature"
// @Success     200 {object} models.WebhookAck
// @Failure     400 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /webhooks/stripe [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhook.MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to read request body",
			Message: err.Error(),
		})
		return
	}

	result, err := h.receiver.Receive(c.Request.Context(), body, c.GetHeader(webhook.SignatureHeader))
	switch {
	case errors.Is(err, webhook.ErrAuthentication):
		h.logger.Warn("Rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid signature"})
		return
	case errors.Is(err, webhook.ErrInFlight):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "event is being processed, retry later"})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, models.WebhookAck{Received: true, Status: result.Status})
}
