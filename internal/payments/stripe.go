// Package payments wraps the Stripe API calls the backend makes outside of webhooks.
package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/accountlink"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Metadata keys stamped on every object this service creates.
const (
	MetaStageID   = "stage_id"
	MetaProjectID = "project_id"
	MetaKind      = "kind"
	MetaUserID    = "user_id"
)

// Values of the kind metadata key.
const (
	KindStagePayment = "stage_payment"
	KindExtension    = "extension"
)

// Processor is the subset of Stripe used by the payment service.
type Processor interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*stripe.PaymentIntent, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	CreateExtensionCheckout(ctx context.Context, in ExtensionCheckoutInput) (*stripe.CheckoutSession, error)
	CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckoutInput) (*stripe.CheckoutSession, error)
	CreateConnectAccount(ctx context.Context, userID uuid.UUID, email string) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*stripe.AccountLink, error)
}

type PaymentIntentInput struct {
	ProjectID uuid.UUID
	StageID   uuid.UUID
	Amount    int64
	Currency  string
	// DestinationAccount routes the charge to a Connect account when set.
	DestinationAccount string
	ApplicationFee     int64
	ReceiptEmail       string
	Description        string
}

type ExtensionCheckoutInput struct {
	ProjectID  uuid.UUID
	StageID    uuid.UUID
	StageName  string
	Amount     int64
	Currency   string
	SuccessURL string
	CancelURL  string
	// DestinationAccount routes the charge to a Connect account when set.
	DestinationAccount string
	ApplicationFee     int64
}

type SubscriptionCheckoutInput struct {
	UserID     uuid.UUID
	Email      string
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type StripeClient struct {
	paymentIntents *paymentintent.Client
	sessions       *session.Client
	accounts       *account.Client
	accountLinks   *accountlink.Client
}

func NewStripeClient(secretKey string) *StripeClient {
	return NewStripeClientWithBackend(secretKey, stripe.GetBackend(stripe.APIBackend))
}

// NewStripeClientWithBackend lets tests point the client at a fake API.
func NewStripeClientWithBackend(secretKey string, backend stripe.Backend) *StripeClient {
	return &StripeClient{
		paymentIntents: &paymentintent.Client{B: backend, Key: secretKey},
		sessions:       &session.Client{B: backend, Key: secretKey},
		accounts:       &account.Client{B: backend, Key: secretKey},
		accountLinks:   &accountlink.Client{B: backend, Key: secretKey},
	}
}

func (c *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.paymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent %s: %w", id, err)
	}
	return pi, nil
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetaStageID, in.StageID.String())
	params.AddMetadata(MetaProjectID, in.ProjectID.String())
	params.AddMetadata(MetaKind, KindStagePayment)
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(in.ReceiptEmail)
	}
	if in.DestinationAccount != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(in.DestinationAccount),
		}
		if in.ApplicationFee > 0 {
			params.ApplicationFeeAmount = stripe.Int64(in.ApplicationFee)
		}
	}

	pi, err := c.paymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent for stage %s: %w", in.StageID, err)
	}
	return pi, nil
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := c.sessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session %s: %w", id, err)
	}
	return s, nil
}

func (c *StripeClient) CreateExtensionCheckout(ctx context.Context, in ExtensionCheckoutInput) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(in.Currency),
					UnitAmount: stripe.Int64(in.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Extra revision: " + in.StageName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetaStageID, in.StageID.String())
	params.AddMetadata(MetaProjectID, in.ProjectID.String())
	params.AddMetadata(MetaKind, KindExtension)
	if in.DestinationAccount != "" {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(in.DestinationAccount),
			},
		}
		if in.ApplicationFee > 0 {
			params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(in.ApplicationFee)
		}
	}

	s, err := c.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create extension checkout for stage %s: %w", in.StageID, err)
	}
	return s, nil
}

func (c *StripeClient) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckoutInput) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.UserID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetaUserID: in.UserID.String()},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetaUserID, in.UserID.String())
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}

	s, err := c.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription checkout for user %s: %w", in.UserID, err)
	}
	return s, nil
}

func (c *StripeClient) CreateConnectAccount(ctx context.Context, userID uuid.UUID, email string) (*stripe.Account, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetaUserID, userID.String())
	params.SetIdempotencyKey("connect-account-" + userID.String())
	if email != "" {
		params.Email = stripe.String(email)
	}

	acct, err := c.accounts.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create connect account for user %s: %w", userID, err)
	}
	return acct, nil
}

func (c *StripeClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*stripe.AccountLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := c.accountLinks.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create account link for %s: %w", accountID, err)
	}
	return link, nil
}

// ApplicationFee returns the platform's cut of amount, rounded down.
func ApplicationFee(amount, percent int64) int64 {
	if percent <= 0 || amount <= 0 {
		return 0
	}
	return amount * percent / 100
}

var _ Processor = (*StripeClient)(nil)
