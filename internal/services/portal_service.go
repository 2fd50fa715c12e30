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

// GetPortal returns the project and its ordered stages for a share code.
func (s *PaymentService) GetPortal(ctx context.Context, shareCode string) (*models.PortalResponse, error) {
	project, err := s.projects.ProjectByShareCode(ctx, shareCode)
	if err != nil {
		return nil, err
	}
	stages, err := s.projects.StagesByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	resp := &models.PortalResponse{
		ProjectID:  project.ID.String(),
		Name:       project.Name,
		ClientName: project.ClientName,
		Currency:   project.Currency,
		Stages:     make([]models.PortalStage, 0, len(stages)),
	}
	for _, st := range stages {
		ps := models.PortalStage{
			ID:            st.ID.String(),
			StageNumber:   st.StageNumber,
			Name:          st.Name,
			Amount:        st.Amount,
			Status:        st.Status,
			PaymentStatus: st.PaymentStatus,
		}
		if st.ExtensionPrice.Valid {
			price := st.ExtensionPrice.Int64
			ps.ExtensionPrice = &price
		}
		if st.PaymentReceivedAt.Valid {
			at := st.PaymentReceivedAt.Time
			ps.PaymentReceivedAt = &at
		}
		resp.Stages = append(resp.Stages, ps)
	}
	return resp, nil
}

// portalStage resolves a stage through the share code so a client can only
// act on stages of the project they were invited to.
func (s *PaymentService) portalStage(ctx context.Context, shareCode string, stageID uuid.UUID) (*models.Project, *models.Stage, error) {
	project, err := s.projects.ProjectByShareCode(ctx, shareCode)
	if err != nil {
		return nil, nil, err
	}
	stage, err := s.store.GetStage(ctx, stageID)
	if err != nil {
		return nil, nil, err
	}
	if stage.ProjectID != project.ID {
		return nil, nil, fmt.Errorf("stage %s: %w", stageID, ledger.ErrNotFound)
	}
	return project, stage, nil
}

// destination returns the freelancer's Connect account when it can take charges.
func (s *PaymentService) destination(ctx context.Context, project *models.Project) string {
	profile, err := s.store.GetProfile(ctx, project.UserID)
	if err != nil {
		s.logger.Warn("Falling back to platform charge", zap.String("project_id", project.ID.String()), zap.Error(err))
		return ""
	}
	if profile.StripeConnectAccountID.Valid && profile.StripeChargesEnabled {
		return profile.StripeConnectAccountID.String
	}
	return ""
}

// CreateStagePaymentIntent starts a payment for the active stage.
func (s *PaymentService) CreateStagePaymentIntent(ctx context.Context, shareCode string, stageID uuid.UUID) (*models.PaymentIntentResponse, error) {
	project, stage, err := s.portalStage(ctx, shareCode, stageID)
	if err != nil {
		return nil, err
	}
	if stage.Status != models.StageActive {
		return nil, fmt.Errorf("stage %s is %s: %w", stage.ID, stage.Status, ledger.ErrValidation)
	}
	if stage.IsPaid() {
		return nil, fmt.Errorf("stage %s is already paid: %w", stage.ID, ledger.ErrValidation)
	}
	if stage.Amount <= 0 {
		return nil, fmt.Errorf("stage %s has no amount: %w", stage.ID, ledger.ErrValidation)
	}

	currency := stage.Currency
	if currency == "" {
		currency = project.Currency
	}

	in := payments.PaymentIntentInput{
		ProjectID:    project.ID,
		StageID:      stage.ID,
		Amount:       stage.Amount,
		Currency:     currency,
		ReceiptEmail: project.ClientEmail,
		Description:  fmt.Sprintf("%s: stage %d (%s)", project.Name, stage.StageNumber, stage.Name),
	}
	if acct := s.destination(ctx, project); acct != "" {
		in.DestinationAccount = acct
		in.ApplicationFee = payments.ApplicationFee(stage.Amount, s.platformFeePercent)
	}

	pi, err := s.processor.CreatePaymentIntent(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := s.updater.RecordPendingPayment(ctx, stage, pi.ID, stage.Amount, currency); err != nil {
		return nil, err
	}

	return &models.PaymentIntentResponse{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		Amount:          stage.Amount,
		Currency:        currency,
	}, nil
}

// CreateExtensionCheckout starts a checkout for one extra revision round.
func (s *PaymentService) CreateExtensionCheckout(ctx context.Context, shareCode string, stageID uuid.UUID, successURL, cancelURL string) (*models.CheckoutResponse, error) {
	project, stage, err := s.portalStage(ctx, shareCode, stageID)
	if err != nil {
		return nil, err
	}
	if !stage.ExtensionPrice.Valid || stage.ExtensionPrice.Int64 <= 0 {
		return nil, fmt.Errorf("stage %s has no extension price: %w", stage.ID, ledger.ErrValidation)
	}

	currency := stage.Currency
	if currency == "" {
		currency = project.Currency
	}

	in := payments.ExtensionCheckoutInput{
		ProjectID:  project.ID,
		StageID:    stage.ID,
		StageName:  stage.Name,
		Amount:     stage.ExtensionPrice.Int64,
		Currency:   currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	}
	if acct := s.destination(ctx, project); acct != "" {
		in.DestinationAccount = acct
		in.ApplicationFee = payments.ApplicationFee(in.Amount, s.platformFeePercent)
	}

	session, err := s.processor.CreateExtensionCheckout(ctx, in)
	if err != nil {
		return nil, err
	}

	return &models.CheckoutResponse{SessionID: session.ID, URL: session.URL}, nil
}
