package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
	"milestage-backend/internal/notify"
	"milestage-backend/internal/payments"
)

// Source says where a payment confirmation came from. Confirmations from the
// browser are re-verified with Stripe; webhook events are already authenticated.
type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceConfirmation Source = "confirmation"
)

// ProjectReader serves the client portal lookups.
type ProjectReader interface {
	ProjectByShareCode(ctx context.Context, shareCode string) (*models.Project, error)
	StagesByProject(ctx context.Context, projectID uuid.UUID) ([]models.Stage, error)
}

// PaymentService is the single reconciliation path shared by webhooks and
// the synchronous confirmation endpoints.
type PaymentService struct {
	updater            *ledger.Updater
	store              ledger.Store
	projects           ProjectReader
	processor          payments.Processor
	notifier           notify.Notifier
	logger             *zap.Logger
	platformFeePercent int64
	baseURL            string
}

func NewPaymentService(
	updater *ledger.Updater,
	projects ProjectReader,
	processor payments.Processor,
	notifier notify.Notifier,
	logger *zap.Logger,
	platformFeePercent int64,
	baseURL string,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &PaymentService{
		updater:            updater,
		store:              updater.Store(),
		projects:           projects,
		processor:          processor,
		notifier:           notifier,
		logger:             logger,
		platformFeePercent: platformFeePercent,
		baseURL:            baseURL,
	}
}

type PaymentConfirmation struct {
	PaymentIntentID string
	StageID         uuid.UUID
	// Amount and Currency are taken from the payment intent; zero means the stage's own values.
	Amount   int64
	Currency string
}

type StagePaymentResult struct {
	Stage            *models.Stage
	NextStage        *models.Stage
	AlreadyProcessed bool
}

// ConfirmStagePayment marks the stage paid, unlocks the next one and queues
// notifications for the transitions that actually happened.
func (s *PaymentService) ConfirmStagePayment(ctx context.Context, src Source, in PaymentConfirmation) (*StagePaymentResult, error) {
	if src == SourceConfirmation {
		pi, err := s.processor.GetPaymentIntent(ctx, in.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		if pi.Status != stripe.PaymentIntentStatusSucceeded {
			return nil, fmt.Errorf("payment intent %s is %s: %w", pi.ID, pi.Status, ledger.ErrValidation)
		}
		if pi.Metadata[payments.MetaStageID] != in.StageID.String() {
			return nil, fmt.Errorf("payment intent %s does not belong to stage %s: %w", pi.ID, in.StageID, ledger.ErrValidation)
		}
		in.Amount = pi.Amount
		in.Currency = string(pi.Currency)
	}

	paid, err := s.updater.MarkStagePaid(ctx, ledger.MarkPaidInput{
		StageID:          in.StageID,
		PaymentReference: in.PaymentIntentID,
		Amount:           in.Amount,
		Currency:         in.Currency,
	})
	if err != nil {
		return nil, err
	}

	// Unlock runs on redelivery too so a crash between the two writes heals.
	unlock, err := s.updater.UnlockNextStage(ctx, paid.Stage.ProjectID, paid.Stage.StageNumber)
	if err != nil {
		return nil, err
	}

	if paid.Changed || unlock.Unlocked {
		s.notifyStagePayment(ctx, paid, unlock)
	}

	s.logger.Info("Stage payment reconciled",
		zap.String("source", string(src)),
		zap.String("stage_id", in.StageID.String()),
		zap.String("payment_intent_id", in.PaymentIntentID),
		zap.Bool("changed", paid.Changed),
		zap.Bool("unlocked", unlock.Unlocked),
	)

	return &StagePaymentResult{
		Stage:            paid.Stage,
		NextStage:        unlock.Stage,
		AlreadyProcessed: !paid.Changed,
	}, nil
}

func (s *PaymentService) notifyStagePayment(ctx context.Context, paid *ledger.MarkPaidResult, unlock *ledger.UnlockResult) {
	project, err := s.store.GetProject(ctx, paid.Stage.ProjectID)
	if err != nil {
		s.logger.Warn("Skipping payment notifications", zap.Error(err))
		return
	}

	if paid.Changed {
		profile, err := s.store.GetProfile(ctx, project.UserID)
		if err != nil {
			s.logger.Warn("Skipping payment received notification", zap.Error(err))
		} else {
			s.notifier.Notify(notify.Job{
				Type: notify.TemplatePaymentReceived,
				To:   profile.Email,
				Data: map[string]any{
					"project_name": project.Name,
					"client_name":  project.ClientName,
					"stage_name":   paid.Stage.Name,
					"stage_number": paid.Stage.StageNumber,
					"amount":       paid.Stage.Amount,
					"currency":     paid.Stage.Currency,
				},
			})
		}
	}

	if unlock.Unlocked && project.ClientEmail != "" {
		s.notifier.Notify(notify.Job{
			Type: notify.TemplateStageUnlocked,
			To:   project.ClientEmail,
			Data: map[string]any{
				"project_name": project.Name,
				"client_name":  project.ClientName,
				"stage_name":   unlock.Stage.Name,
				"stage_number": unlock.Stage.StageNumber,
				"portal_url":   s.portalURL(project.ShareCode),
			},
		})
	}
}

func (s *PaymentService) portalURL(shareCode string) string {
	return s.baseURL + "/portal/" + shareCode
}

type ExtensionConfirmation struct {
	SessionID string
	StageID   uuid.UUID
	// Amount is the amount collected; zero means the stage's extension price.
	Amount int64
}

// ConfirmExtensionPayment records the purchased extension. Repeats report
// AlreadyProcessed and create nothing.
func (s *PaymentService) ConfirmExtensionPayment(ctx context.Context, src Source, in ExtensionConfirmation) (*ledger.ExtensionResult, error) {
	if src == SourceConfirmation {
		session, err := s.processor.GetCheckoutSession(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil, fmt.Errorf("checkout session %s is %s: %w", session.ID, session.PaymentStatus, ledger.ErrValidation)
		}
		if session.Metadata[payments.MetaStageID] != in.StageID.String() {
			return nil, fmt.Errorf("checkout session %s does not belong to stage %s: %w", session.ID, in.StageID, ledger.ErrValidation)
		}
		in.Amount = session.AmountTotal
	}

	result, err := s.updater.CreateExtension(ctx, ledger.ExtensionInput{
		StageID:          in.StageID,
		Amount:           in.Amount,
		PaymentReference: in.SessionID,
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyProcessed {
		s.notifyExtension(ctx, result.Extension)
	}

	s.logger.Info("Extension payment reconciled",
		zap.String("source", string(src)),
		zap.String("stage_id", in.StageID.String()),
		zap.String("session_id", in.SessionID),
		zap.Bool("already_processed", result.AlreadyProcessed),
	)
	return result, nil
}

func (s *PaymentService) notifyExtension(ctx context.Context, ext *models.Extension) {
	stage, err := s.store.GetStage(ctx, ext.StageID)
	if err != nil {
		s.logger.Warn("Skipping extension notification", zap.Error(err))
		return
	}
	project, err := s.store.GetProject(ctx, stage.ProjectID)
	if err != nil {
		s.logger.Warn("Skipping extension notification", zap.Error(err))
		return
	}
	profile, err := s.store.GetProfile(ctx, project.UserID)
	if err != nil {
		s.logger.Warn("Skipping extension notification", zap.Error(err))
		return
	}

	s.notifier.Notify(notify.Job{
		Type: notify.TemplateExtensionPurchased,
		To:   profile.Email,
		Data: map[string]any{
			"project_name":   project.Name,
			"client_name":    project.ClientName,
			"stage_name":     stage.Name,
			"reference_code": ext.ReferenceCode,
			"amount":         ext.Amount,
			"currency":       stage.Currency,
		},
	})
}

type PaymentFailure struct {
	PaymentIntentID string
	StageID         uuid.UUID
	Amount          int64
	Currency        string
	Reason          string
}

func (s *PaymentService) RecordPaymentFailure(ctx context.Context, in PaymentFailure) error {
	if err := s.updater.RecordPaymentFailure(ctx, in.StageID, in.PaymentIntentID, in.Amount, in.Currency); err != nil {
		return err
	}
	if in.Reason != "" {
		s.logger.Info("Payment failure reason",
			zap.String("payment_intent_id", in.PaymentIntentID),
			zap.String("reason", in.Reason),
		)
	}
	return nil
}

func (s *PaymentService) SyncConnectAccount(ctx context.Context, accountID string, caps ledger.Capabilities) error {
	_, err := s.updater.UpdateConnectCapabilities(ctx, ledger.CapabilityUpdate{AccountID: accountID, Capabilities: caps})
	return err
}

func (s *PaymentService) SyncSubscription(ctx context.Context, userID, stripeStatus string) error {
	_, err := s.updater.UpdateSubscription(ctx, userID, stripeStatus)
	return err
}

func (s *PaymentService) MarkCustomerPastDue(ctx context.Context, customerID string) error {
	_, err := s.updater.MarkCustomerPastDue(ctx, customerID)
	return err
}

func (s *PaymentService) LinkCustomer(ctx context.Context, userID, customerID string) error {
	_, err := s.updater.LinkCustomer(ctx, userID, customerID)
	return err
}
