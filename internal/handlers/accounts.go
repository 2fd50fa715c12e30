package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"milestage-backend/internal/middleware"
	"milestage-backend/internal/models"
	"milestage-backend/internal/services"
)

type AccountsHandler struct {
	accounts *services.AccountService
}

func NewAccountsHandler(accounts *services.AccountService) *AccountsHandler {
	return &AccountsHandler{
		accounts: accounts,
	}
}

// StartOnboarding godoc
// @Summary     Start Stripe Connect onboarding
// @Description Creates the freelancer's Express account on first use and returns an onboarding link.
// @Tags        connect
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.ConnectOnboardingRequest true "Redirect URLs"
// @Success     200 {object} models.ConnectOnboardingResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /connect/onboarding [post]
func (h *AccountsHandler) StartOnboarding(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req models.ConnectOnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err.Error())
		return
	}

	resp, err := h.accounts.StartConnectOnboarding(c.Request.Context(), userID, req.RefreshURL, req.ReturnURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartBillingCheckout godoc
// @Summary     Subscribe to the platform
// @Tags        billing
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.BillingCheckoutRequest true "Price and redirect URLs"
// @Success     200 {object} models.CheckoutResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /billing/checkout [post]
func (h *AccountsHandler) StartBillingCheckout(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req models.BillingCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err.Error())
		return
	}

	resp, err := h.accounts.StartSubscriptionCheckout(c.Request.Context(), userID, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
