package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Stage status values.
const (
	StageLocked    = "locked"
	StageActive    = "active"
	StageCompleted = "completed"
)

// Stage payment status values. "received" is the terminal paid state written
// by payment confirmation; "verified" is set manually by the freelancer.
const (
	PaymentPending  = "pending"
	PaymentReceived = "received"
	PaymentVerified = "verified"
)

// Extension status values.
const (
	ExtensionPending = "pending"
	ExtensionPaid    = "paid"
)

// StagePayment status values.
const (
	StagePaymentPending  = "pending"
	StagePaymentPaid     = "paid"
	StagePaymentVerified = "verified"
	StagePaymentFailed   = "failed"
)

// Subscription status values stored on user profiles.
const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

type Project struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.UUID      `json:"user_id"`
	Name            string         `json:"name"`
	ClientName      string         `json:"client_name"`
	ClientEmail     string         `json:"client_email"`
	Currency        string         `json:"currency"`
	ShareCode       string         `json:"share_code"`
	StripeAccountID sql.NullString `json:"-"`
	ChargesEnabled  bool           `json:"charges_enabled"`
	PayoutsEnabled  bool           `json:"payouts_enabled"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Stage amounts are kept in minor currency units.
type Stage struct {
	ID                  uuid.UUID     `json:"id"`
	ProjectID           uuid.UUID     `json:"project_id"`
	StageNumber         int           `json:"stage_number"`
	Name                string        `json:"name"`
	Amount              int64         `json:"amount"`
	Currency            string        `json:"currency"`
	Status              string        `json:"status"`
	PaymentStatus       string        `json:"payment_status"`
	ExtensionPrice      sql.NullInt64 `json:"-"`
	AdditionalRevisions int           `json:"additional_revisions"`
	PaymentReceivedAt   sql.NullTime  `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// IsPaid reports whether the stage reached a terminal payment state.
func (s *Stage) IsPaid() bool {
	return s.PaymentStatus == PaymentReceived || s.PaymentStatus == PaymentVerified
}

type Extension struct {
	ID                  uuid.UUID      `json:"id"`
	StageID             uuid.UUID      `json:"stage_id"`
	Amount              int64          `json:"amount"`
	Status              string         `json:"status"`
	ReferenceCode       string         `json:"reference_code"`
	PaymentReference    sql.NullString `json:"-"`
	AdditionalRevisions int            `json:"additional_revisions"`
	CreatedAt           time.Time      `json:"created_at"`
	MarkedPaidAt        sql.NullTime   `json:"-"`
	VerifiedAt          sql.NullTime   `json:"-"`
}

type StagePayment struct {
	ID                    uuid.UUID    `json:"id"`
	StageID               uuid.UUID    `json:"stage_id"`
	Amount                int64        `json:"amount"`
	Currency              string       `json:"currency"`
	Status                string       `json:"status"`
	StripePaymentIntentID string       `json:"stripe_payment_intent_id"`
	PaidAt                sql.NullTime `json:"-"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

type UserProfile struct {
	ID                        uuid.UUID      `json:"id"`
	Email                     string         `json:"email"`
	StripeCustomerID          sql.NullString `json:"-"`
	StripeConnectAccountID    sql.NullString `json:"-"`
	StripeChargesEnabled      bool           `json:"stripe_charges_enabled"`
	StripePayoutsEnabled      bool           `json:"stripe_payouts_enabled"`
	StripeOnboardingCompleted bool           `json:"stripe_onboarding_completed"`
	StripeConnectedAt         sql.NullTime   `json:"-"`
	SubscriptionStatus        string         `json:"subscription_status"`
	SubscriptionUpdatedAt     sql.NullTime   `json:"-"`
	CreatedAt                 time.Time      `json:"created_at"`
	UpdatedAt                 time.Time      `json:"updated_at"`
}
