package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"milestage-backend/internal/metrics"
	"milestage-backend/internal/models"
)

type CapabilityUpdate struct {
	AccountID string
	Capabilities
}

// UpdateConnectCapabilities copies the account's capability flags onto the
// owning profile. Unknown accounts are ignored. The connected timestamp is
// stamped on every fully enabled update, not only the first.
func (u *Updater) UpdateConnectCapabilities(ctx context.Context, in CapabilityUpdate) (bool, error) {
	if in.AccountID == "" {
		return false, nil
	}

	profile, err := u.store.GetProfileByConnectAccount(ctx, in.AccountID)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordLedgerTransition("connect_capabilities", "noop")
		u.logger.Debug("No profile for connect account", zap.String("account_id", in.AccountID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up connect account %s: %w", in.AccountID, err)
	}

	var connectedAt *time.Time
	if in.ChargesEnabled && in.PayoutsEnabled {
		t := u.now().UTC()
		connectedAt = &t
	}

	if err := u.store.UpdateConnectCapabilities(ctx, profile.ID, in.Capabilities, connectedAt); err != nil {
		metrics.RecordLedgerTransition("connect_capabilities", "error")
		return false, fmt.Errorf("failed to update capabilities for user %s: %w", profile.ID, err)
	}

	metrics.RecordLedgerTransition("connect_capabilities", "applied")
	u.logger.Info("Connect capabilities updated",
		zap.String("user_id", profile.ID.String()),
		zap.String("account_id", in.AccountID),
		zap.Bool("charges_enabled", in.ChargesEnabled),
		zap.Bool("payouts_enabled", in.PayoutsEnabled),
		zap.Bool("details_submitted", in.DetailsSubmitted),
	)
	return true, nil
}

// MapSubscriptionStatus folds a Stripe subscription status into the profile vocabulary.
func MapSubscriptionStatus(stripeStatus string) string {
	switch stripeStatus {
	case "active":
		return models.SubscriptionActive
	case "past_due", "unpaid":
		return models.SubscriptionPastDue
	case "canceled":
		return models.SubscriptionCanceled
	default:
		return models.SubscriptionTrialing
	}
}

// UpdateSubscription applies a subscription status change. An absent or
// malformed user id is a no-op.
func (u *Updater) UpdateSubscription(ctx context.Context, userID, stripeStatus string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		u.logger.Warn("Ignoring subscription event with malformed user id", zap.String("user_id", userID))
		return false, nil
	}

	return u.setSubscriptionStatus(ctx, id, MapSubscriptionStatus(stripeStatus))
}

// MarkCustomerPastDue handles a failed invoice for a billing customer.
func (u *Updater) MarkCustomerPastDue(ctx context.Context, customerID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}

	profile, err := u.store.GetProfileByCustomer(ctx, customerID)
	if errors.Is(err, ErrNotFound) {
		u.logger.Debug("No profile for billing customer", zap.String("customer_id", customerID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}

	return u.setSubscriptionStatus(ctx, profile.ID, models.SubscriptionPastDue)
}

// LinkCustomer remembers the billing customer created by a subscription checkout.
func (u *Updater) LinkCustomer(ctx context.Context, userID, customerID string) (bool, error) {
	if userID == "" || customerID == "" {
		return false, nil
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		u.logger.Warn("Ignoring checkout with malformed user id", zap.String("user_id", userID))
		return false, nil
	}

	ok, err := u.store.SetStripeCustomer(ctx, id, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to link customer %s to user %s: %w", customerID, id, err)
	}
	return ok, nil
}

func (u *Updater) setSubscriptionStatus(ctx context.Context, userID uuid.UUID, status string) (bool, error) {
	ok, err := u.store.UpdateSubscriptionStatus(ctx, userID, status, u.now().UTC())
	if err != nil {
		metrics.RecordLedgerTransition("subscription_status", "error")
		return false, fmt.Errorf("failed to update subscription for user %s: %w", userID, err)
	}
	if !ok {
		metrics.RecordLedgerTransition("subscription_status", "noop")
		u.logger.Debug("No profile for subscription update", zap.String("user_id", userID.String()))
		return false, nil
	}

	metrics.RecordLedgerTransition("subscription_status", "applied")
	u.logger.Info("Subscription status updated",
		zap.String("user_id", userID.String()),
		zap.String("status", status),
	)
	return true, nil
}
