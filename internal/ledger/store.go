package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"milestage-backend/internal/models"
)

// Capabilities mirrors the Connect account flags Stripe reports on account.updated.
type Capabilities struct {
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Store is the persistence contract the ledger relies on. Every write is
// conditional so that repeating it leaves state unchanged.
type Store interface {
	GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	GetStage(ctx context.Context, stageID uuid.UUID) (*models.Stage, error)

	// MarkStagePaid moves a pending stage to received and stamps paidAt.
	// It reports false when the stage was already received or verified.
	MarkStagePaid(ctx context.Context, stageID uuid.UUID, paidAt time.Time) (bool, error)

	// UpsertStagePayment inserts or updates the row keyed by
	// StripePaymentIntentID. Status only moves forward:
	// pending -> failed -> paid -> verified; a verified row is never touched.
	UpsertStagePayment(ctx context.Context, payment *models.StagePayment) error

	StagesByNumber(ctx context.Context, projectID uuid.UUID, stageNumber int) ([]models.Stage, error)

	// ActivateStage sets status=active only if the stage is currently locked.
	ActivateStage(ctx context.Context, stageID uuid.UUID) (bool, error)

	// LatestPaidExtension returns the most recently created paid extension
	// for the stage, or nil when there is none.
	LatestPaidExtension(ctx context.Context, stageID uuid.UUID) (*models.Extension, error)

	// InsertPaidExtension stores ext and bumps the stage's revision count.
	// It returns ErrConflict when a paid extension for the stage or the same
	// payment reference already exists.
	InsertPaidExtension(ctx context.Context, ext *models.Extension) error

	GetProfileByConnectAccount(ctx context.Context, accountID string) (*models.UserProfile, error)
	GetProfileByCustomer(ctx context.Context, customerID string) (*models.UserProfile, error)

	// UpdateConnectCapabilities writes the flags; connectedAt is written only when non-nil.
	UpdateConnectCapabilities(ctx context.Context, userID uuid.UUID, caps Capabilities, connectedAt *time.Time) error

	// UpdateSubscriptionStatus reports false when the user does not exist.
	UpdateSubscriptionStatus(ctx context.Context, userID uuid.UUID, status string, updatedAt time.Time) (bool, error)

	SetStripeCustomer(ctx context.Context, userID uuid.UUID, customerID string) (bool, error)
}
