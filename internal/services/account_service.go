package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
	"milestage-backend/internal/payments"
)

// ConnectAccounts persists the Express account created during onboarding.
type ConnectAccounts interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	// SetConnectAccount keeps an account already on the profile and returns the one stored.
	SetConnectAccount(ctx context.Context, userID uuid.UUID, accountID string) (string, error)
}

// AccountService drives Connect onboarding and platform billing for freelancers.
type AccountService struct {
	accounts       ConnectAccounts
	processor      payments.Processor
	logger         *zap.Logger
	defaultPriceID string
}

func NewAccountService(accounts ConnectAccounts, processor payments.Processor, logger *zap.Logger, defaultPriceID string) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		accounts:       accounts,
		processor:      processor,
		logger:         logger,
		defaultPriceID: defaultPriceID,
	}
}

// StartConnectOnboarding creates the freelancer's Express account on first use
// and returns a fresh onboarding link.
func (s *AccountService) StartConnectOnboarding(ctx context.Context, userID uuid.UUID, refreshURL, returnURL string) (*models.ConnectOnboardingResponse, error) {
	profile, err := s.accounts.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	accountID := profile.StripeConnectAccountID.String
	if !profile.StripeConnectAccountID.Valid || accountID == "" {
		acct, err := s.processor.CreateConnectAccount(ctx, userID, profile.Email)
		if err != nil {
			return nil, err
		}
		accountID, err = s.accounts.SetConnectAccount(ctx, userID, acct.ID)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Connect account created",
			zap.String("user_id", userID.String()),
			zap.String("account_id", accountID),
		)
	}

	link, err := s.processor.CreateAccountLink(ctx, accountID, refreshURL, returnURL)
	if err != nil {
		return nil, err
	}

	return &models.ConnectOnboardingResponse{AccountID: accountID, URL: link.URL}, nil
}

// StartSubscriptionCheckout opens a checkout session for the platform subscription.
func (s *AccountService) StartSubscriptionCheckout(ctx context.Context, userID uuid.UUID, priceID, successURL, cancelURL string) (*models.CheckoutResponse, error) {
	if priceID == "" {
		priceID = s.defaultPriceID
	}
	if priceID == "" {
		return nil, fmt.Errorf("no subscription price configured: %w", ledger.ErrValidation)
	}

	profile, err := s.accounts.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.processor.CreateSubscriptionCheckout(ctx, payments.SubscriptionCheckoutInput{
		UserID:     userID,
		Email:      profile.Email,
		CustomerID: profile.StripeCustomerID.String,
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}

	return &models.CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}
