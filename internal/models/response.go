package models

import "time"

type WebhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

type ConfirmPaymentResponse struct {
	Success          bool   `json:"success"`
	StageID          string `json:"stage_id"`
	PaymentStatus    string `json:"payment_status"`
	NextStageID      string `json:"next_stage_id,omitempty"`
	NextStageStatus  string `json:"next_stage_status,omitempty"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

type ConfirmExtensionResponse struct {
	Success          bool   `json:"success"`
	ExtensionID      string `json:"extension_id"`
	ReferenceCode    string `json:"reference_code"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
}

type PaymentIntentResponse struct {
	ClientSecret    string `json:"client_secret"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type ConnectOnboardingResponse struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

type PortalResponse struct {
	ProjectID  string        `json:"project_id"`
	Name       string        `json:"name"`
	ClientName string        `json:"client_name"`
	Currency   string        `json:"currency"`
	Stages     []PortalStage `json:"stages"`
}

type PortalStage struct {
	ID                string     `json:"id"`
	StageNumber       int        `json:"stage_number"`
	Name              string     `json:"name"`
	Amount            int64      `json:"amount"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	ExtensionPrice    *int64     `json:"extension_price,omitempty"`
	PaymentReceivedAt *time.Time `json:"payment_received_at,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
