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

// Updater applies the stage ledger transitions authorised by payment events.
// Every operation is safe to repeat with the same input.
type Updater struct {
	store        Store
	logger       *zap.Logger
	now          func() time.Time
	newReference func() (string, error)
}

func NewUpdater(store Store, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		store:        store,
		logger:       logger,
		now:          time.Now,
		newReference: NewReferenceCode,
	}
}

// WithClock replaces the time source. Used by tests.
func (u *Updater) WithClock(now func() time.Time) *Updater {
	u.now = now
	return u
}

// Store exposes the underlying store for read-side lookups.
func (u *Updater) Store() Store {
	return u.store
}

type MarkPaidInput struct {
	StageID          uuid.UUID
	PaymentReference string
	// Amount and Currency default to the stage's own values when zero.
	Amount   int64
	Currency string
}

type MarkPaidResult struct {
	Stage   *models.Stage
	Changed bool
}

// MarkStagePaid records a confirmed payment against a stage.
func (u *Updater) MarkStagePaid(ctx context.Context, in MarkPaidInput) (*MarkPaidResult, error) {
	stage, err := u.store.GetStage(ctx, in.StageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage %s: %w", in.StageID, err)
	}

	now := u.now().UTC()

	if in.PaymentReference != "" {
		payment := &models.StagePayment{
			ID:                    uuid.New(),
			StageID:               stage.ID,
			Amount:                in.Amount,
			Currency:              in.Currency,
			Status:                models.StagePaymentPaid,
			StripePaymentIntentID: in.PaymentReference,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		payment.PaidAt.Time, payment.PaidAt.Valid = now, true
		if payment.Amount == 0 {
			payment.Amount = stage.Amount
		}
		if payment.Currency == "" {
			payment.Currency = stage.Currency
		}
		if err := u.store.UpsertStagePayment(ctx, payment); err != nil {
			metrics.RecordLedgerTransition("mark_paid", "error")
			return nil, fmt.Errorf("failed to upsert stage payment %s: %w", in.PaymentReference, err)
		}
	}

	changed, err := u.store.MarkStagePaid(ctx, stage.ID, now)
	if err != nil {
		metrics.RecordLedgerTransition("mark_paid", "error")
		return nil, fmt.Errorf("failed to mark stage %s paid: %w", stage.ID, err)
	}

	if changed {
		stage.PaymentStatus = models.PaymentReceived
		stage.PaymentReceivedAt.Time, stage.PaymentReceivedAt.Valid = now, true
		metrics.RecordLedgerTransition("mark_paid", "applied")
		u.logger.Info("Stage marked paid",
			zap.String("stage_id", stage.ID.String()),
			zap.String("project_id", stage.ProjectID.String()),
			zap.String("payment_reference", in.PaymentReference),
		)
	} else {
		metrics.RecordLedgerTransition("mark_paid", "noop")
		u.logger.Debug("Stage already paid",
			zap.String("stage_id", stage.ID.String()),
			zap.String("payment_status", stage.PaymentStatus),
		)
	}

	return &MarkPaidResult{Stage: stage, Changed: changed}, nil
}

type UnlockResult struct {
	// Stage is the stage following the paid one, nil when the paid stage was the last.
	Stage    *models.Stage
	Unlocked bool
}

// UnlockNextStage activates the stage numbered paidNumber+1 if, and only if,
// it is currently locked. Duplicate ordinals are logged and left alone.
func (u *Updater) UnlockNextStage(ctx context.Context, projectID uuid.UUID, paidNumber int) (*UnlockResult, error) {
	next := paidNumber + 1
	stages, err := u.store.StagesByNumber(ctx, projectID, next)
	if err != nil {
		metrics.RecordLedgerTransition("unlock_next", "error")
		return nil, fmt.Errorf("failed to look up stage %d of project %s: %w", next, projectID, err)
	}

	switch len(stages) {
	case 0:
		metrics.RecordLedgerTransition("unlock_next", "noop")
		return &UnlockResult{}, nil
	case 1:
	default:
		inconsistency := &InconsistencyError{ProjectID: projectID, StageNumber: next, Count: len(stages)}
		metrics.RecordLedgerTransition("unlock_next", "inconsistent")
		u.logger.Error("Refusing to unlock ambiguous stage", zap.Error(inconsistency))
		return &UnlockResult{}, nil
	}

	stage := stages[0]
	if stage.Status != models.StageLocked {
		metrics.RecordLedgerTransition("unlock_next", "noop")
		return &UnlockResult{Stage: &stage}, nil
	}

	unlocked, err := u.store.ActivateStage(ctx, stage.ID)
	if err != nil {
		metrics.RecordLedgerTransition("unlock_next", "error")
		return nil, fmt.Errorf("failed to activate stage %s: %w", stage.ID, err)
	}
	if !unlocked {
		// Another delivery got there between the read and the write.
		metrics.RecordLedgerTransition("unlock_next", "noop")
		return &UnlockResult{Stage: &stage}, nil
	}

	stage.Status = models.StageActive
	metrics.RecordLedgerTransition("unlock_next", "applied")
	u.logger.Info("Stage unlocked",
		zap.String("stage_id", stage.ID.String()),
		zap.String("project_id", projectID.String()),
		zap.Int("stage_number", stage.StageNumber),
	)

	return &UnlockResult{Stage: &stage, Unlocked: true}, nil
}

type ExtensionInput struct {
	StageID uuid.UUID
	// Amount defaults to the stage's extension price when zero.
	Amount           int64
	PaymentReference string
}

type ExtensionResult struct {
	Extension        *models.Extension
	AlreadyProcessed bool
}

// CreateExtension records a paid extension for a stage unless one already exists.
func (u *Updater) CreateExtension(ctx context.Context, in ExtensionInput) (*ExtensionResult, error) {
	stage, err := u.store.GetStage(ctx, in.StageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage %s: %w", in.StageID, err)
	}

	existing, err := u.store.LatestPaidExtension(ctx, stage.ID)
	if err != nil {
		metrics.RecordLedgerTransition("create_extension", "error")
		return nil, fmt.Errorf("failed to check extensions for stage %s: %w", stage.ID, err)
	}
	if existing != nil {
		metrics.RecordLedgerTransition("create_extension", "noop")
		u.logger.Info("Extension already processed",
			zap.String("stage_id", stage.ID.String()),
			zap.String("extension_id", existing.ID.String()),
		)
		return &ExtensionResult{Extension: existing, AlreadyProcessed: true}, nil
	}

	amount := in.Amount
	if amount == 0 && stage.ExtensionPrice.Valid {
		amount = stage.ExtensionPrice.Int64
	}
	if amount <= 0 {
		return nil, fmt.Errorf("stage %s has no extension price: %w", stage.ID, ErrValidation)
	}

	reference, err := u.newReference()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reference code: %w", err)
	}

	now := u.now().UTC()
	ext := &models.Extension{
		ID:                  uuid.New(),
		StageID:             stage.ID,
		Amount:              amount,
		Status:              models.ExtensionPaid,
		ReferenceCode:       reference,
		AdditionalRevisions: 1,
		CreatedAt:           now,
	}
	ext.MarkedPaidAt.Time, ext.MarkedPaidAt.Valid = now, true
	ext.VerifiedAt.Time, ext.VerifiedAt.Valid = now, true
	if in.PaymentReference != "" {
		ext.PaymentReference.String, ext.PaymentReference.Valid = in.PaymentReference, true
	}

	if err := u.store.InsertPaidExtension(ctx, ext); err != nil {
		if errors.Is(err, ErrConflict) {
			winner, lookupErr := u.store.LatestPaidExtension(ctx, stage.ID)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to load concurrent extension for stage %s: %w", stage.ID, lookupErr)
			}
			metrics.RecordLedgerTransition("create_extension", "noop")
			return &ExtensionResult{Extension: winner, AlreadyProcessed: true}, nil
		}
		metrics.RecordLedgerTransition("create_extension", "error")
		return nil, fmt.Errorf("failed to insert extension for stage %s: %w", stage.ID, err)
	}

	metrics.RecordLedgerTransition("create_extension", "applied")
	u.logger.Info("Extension recorded",
		zap.String("stage_id", stage.ID.String()),
		zap.String("extension_id", ext.ID.String()),
		zap.String("reference_code", ext.ReferenceCode),
	)

	return &ExtensionResult{Extension: ext}, nil
}

// RecordPaymentFailure marks the payment attempt failed. Succeeded attempts are left alone.
func (u *Updater) RecordPaymentFailure(ctx context.Context, stageID uuid.UUID, paymentReference string, amount int64, currency string) error {
	if paymentReference == "" {
		return fmt.Errorf("payment reference is required: %w", ErrValidation)
	}

	stage, err := u.store.GetStage(ctx, stageID)
	if err != nil {
		return fmt.Errorf("failed to load stage %s: %w", stageID, err)
	}

	now := u.now().UTC()
	payment := &models.StagePayment{
		ID:                    uuid.New(),
		StageID:               stage.ID,
		Amount:                amount,
		Currency:              currency,
		Status:                models.StagePaymentFailed,
		StripePaymentIntentID: paymentReference,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if payment.Amount == 0 {
		payment.Amount = stage.Amount
	}
	if payment.Currency == "" {
		payment.Currency = stage.Currency
	}

	if err := u.store.UpsertStagePayment(ctx, payment); err != nil {
		metrics.RecordLedgerTransition("payment_failed", "error")
		return fmt.Errorf("failed to record payment failure %s: %w", paymentReference, err)
	}

	metrics.RecordLedgerTransition("payment_failed", "applied")
	u.logger.Warn("Stage payment failed",
		zap.String("stage_id", stage.ID.String()),
		zap.String("payment_reference", paymentReference),
	)
	return nil
}

// RecordPendingPayment stores a freshly created payment attempt.
func (u *Updater) RecordPendingPayment(ctx context.Context, stage *models.Stage, paymentReference string, amount int64, currency string) error {
	now := u.now().UTC()
	payment := &models.StagePayment{
		ID:                    uuid.New(),
		StageID:               stage.ID,
		Amount:                amount,
		Currency:              currency,
		Status:                models.StagePaymentPending,
		StripePaymentIntentID: paymentReference,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := u.store.UpsertStagePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to record pending payment %s: %w", paymentReference, err)
	}
	return nil
}
