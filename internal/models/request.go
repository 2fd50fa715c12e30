package models

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required" example:"pi_3Nw..."`
	StageID         string `json:"stage_id" binding:"required"`
}

type ConfirmExtensionRequest struct {
	// SessionID is the Stripe Checkout session that collected the extension payment.
	SessionID string `json:"session_id" binding:"required" example:"cs_test_a1..."`
	StageID   string `json:"stage_id" binding:"required"`
}

type ExtensionCheckoutRequest struct {
	SuccessURL string `json:"success_url" binding:"required"`
	CancelURL  string `json:"cancel_url" binding:"required"`
}

type ConnectOnboardingRequest struct {
	RefreshURL string `json:"refresh_url" binding:"required"`
	ReturnURL  string `json:"return_url" binding:"required"`
}

type BillingCheckoutRequest struct {
	PriceID    string `json:"price_id,omitempty"`
	SuccessURL string `json:"success_url" binding:"required"`
	CancelURL  string `json:"cancel_url" binding:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
