package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"milestage-backend/internal/models"
	"milestage-backend/internal/services"
)

type PaymentsHandler struct {
	payments *services.PaymentService
}

func NewPaymentsHandler(payments *services.PaymentService) *PaymentsHandler {
	return &PaymentsHandler{
		payments: payments,
	}
}

// ConfirmPayment godoc
// @Summary     Confirm a stage payment
// @Description Re-verifies the payment intent with Stripe, marks the stage paid and unlocks the next stage.
// @Tags        payments
// @Accept      json
// @Produce     json
// @Param       request body models.ConfirmPaymentRequest true "Payment intent and stage"
// @Success     200 {object} models.ConfirmPaymentResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /payments/confirm [post]
func (h *PaymentsHandler) ConfirmPayment(c *gin.Context) {
	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err.Error())
		return
	}
	stageID, err := uuid.Parse(req.StageID)
	if err != nil {
		badRequest(c, "invalid stage_id", err.Error())
		return
	}

	res, err := h.payments.ConfirmStagePayment(c.Request.Context(), services.SourceConfirmation, services.PaymentConfirmation{
		PaymentIntentID: req.PaymentIntentID,
		StageID:         stageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.ConfirmPaymentResponse{
		Success:          true,
		StageID:          res.Stage.ID.String(),
		PaymentStatus:    res.Stage.PaymentStatus,
		AlreadyProcessed: res.AlreadyProcessed,
	}
	if res.NextStage != nil {
		resp.NextStageID = res.NextStage.ID.String()
		resp.NextStageStatus = res.NextStage.Status
	}
	c.JSON(http.StatusOK, resp)
}

// ConfirmExtension godoc
// @Summary     Confirm an extension purchase
// @Description Re-verifies the checkout session with Stripe and records one extra revision round.
// @Tags        payments
// @Accept      json
// @Produce     json
// @Param       request body models.ConfirmExtensionRequest true "Checkout session and stage"
// @Success     200 {object} models.ConfirmExtensionResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /extensions/confirm [post]
func (h *PaymentsHandler) ConfirmExtension(c *gin.Context) {
	var req models.ConfirmExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err.Error())
		return
	}
	stageID, err := uuid.Parse(req.StageID)
	if err != nil {
		badRequest(c, "invalid stage_id", err.Error())
		return
	}

	res, err := h.payments.ConfirmExtensionPayment(c.Request.Context(), services.SourceConfirmation, services.ExtensionConfirmation{
		SessionID: req.SessionID,
		StageID:   stageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ConfirmExtensionResponse{
		Success:          true,
		ExtensionID:      res.Extension.ID.String(),
		ReferenceCode:    res.Extension.ReferenceCode,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

// GetPortal godoc
// @Summary     Client portal
// @Description Returns the project and its stages for a share code.
// @Tags        portal
// @Produce     json
// @Param       share_code path string true "Project share code"
// @Success     200 {object} models.PortalResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /portal/{share_code} [get]
func (h *PaymentsHandler) GetPortal(c *gin.Context) {
	portal, err := h.payments.GetPortal(c.Request.Context(), c.Param("share_code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, portal)
}

// CreatePaymentIntent godoc
// @Summary     Start a stage payment
// @Tags        portal
// @Produce     json
// @Param       share_code path string true "Project share code"
// @Param       stage_id path string true "Stage ID"
// @Success     200 {object} models.PaymentIntentResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /portal/{share_code}/stages/{stage_id}/payment-intent [post]
func (h *PaymentsHandler) CreatePaymentIntent(c *gin.Context) {
	stageID, ok := parseUUIDParam(c, "stage_id")
	if !ok {
		return
	}

	resp, err := h.payments.CreateStagePaymentIntent(c.Request.Context(), c.Param("share_code"), stageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateExtensionCheckout godoc
// @Summary     Buy an extra revision round
// @Tags        portal
// @Accept      json
// @Produce     json
// @Param       share_code path string true "Project share code"
// @Param       stage_id path string true "Stage ID"
// @Param       request body models.ExtensionCheckoutRequest true "Redirect URLs"
// @Success     200 {object} models.CheckoutResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /portal/{share_code}/stages/{stage_id}/extension-checkout [post]
func (h *PaymentsHandler) CreateExtensionCheckout(c *gin.Context) {
	stageID, ok := parseUUIDParam(c, "stage_id")
	if !ok {
		return
	}
	var req models.ExtensionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err.Error())
		return
	}

	resp, err := h.payments.CreateExtensionCheckout(c.Request.Context(), c.Param("share_code"), stageID, req.SuccessURL, req.CancelURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
