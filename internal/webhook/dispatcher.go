package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/models"
	"milestage-backend/internal/payments"
	"milestage-backend/internal/services"
)

// Outcomes reported back to Stripe.
const (
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
	// StatusFailed acknowledges an event that can never be applied, so Stripe
	// stops retrying it. The archived payload can be replayed once fixed.
	StatusFailed = "failed"
)

// Reconciler applies verified events to the ledger.
type Reconciler interface {
	ConfirmStagePayment(ctx context.Context, src services.Source, in services.PaymentConfirmation) (*services.StagePaymentResult, error)
	ConfirmExtensionPayment(ctx context.Context, src services.Source, in services.ExtensionConfirmation) (*ledger.ExtensionResult, error)
	RecordPaymentFailure(ctx context.Context, in services.PaymentFailure) error
	SyncConnectAccount(ctx context.Context, accountID string, caps ledger.Capabilities) error
	SyncSubscription(ctx context.Context, userID, stripeStatus string) error
	MarkCustomerPastDue(ctx context.Context, customerID string) error
	LinkCustomer(ctx context.Context, userID, customerID string) error
}

type handlerFunc func(ctx context.Context, event *stripe.Event) (string, error)

// Dispatcher routes an event to the handler registered for its exact type.
type Dispatcher struct {
	reconciler Reconciler
	logger     *zap.Logger
	handlers   map[string]handlerFunc
}

func NewDispatcher(reconciler Reconciler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		reconciler: reconciler,
		logger:     logger,
	}
	d.handlers = map[string]handlerFunc{
		EventPaymentSucceeded:     d.handlePaymentSucceeded,
		EventPaymentFailed:        d.handlePaymentFailed,
		EventAccountUpdated:       d.handleAccountUpdated,
		EventCheckoutCompleted:    d.handleCheckoutCompleted,
		EventSubscriptionUpdated:  d.handleSubscriptionChanged,
		EventSubscriptionDeleted:  d.handleSubscriptionChanged,
		EventInvoicePaymentFailed: d.handleInvoicePaymentFailed,
	}
	return d
}

// Handles reports whether the event type has a handler.
func (d *Dispatcher) Handles(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch runs the handler for the event. Unknown types are acknowledged
// with StatusIgnored.
func (d *Dispatcher) Dispatch(ctx context.Context, event *stripe.Event) (string, error) {
	handler, ok := d.handlers[string(event.Type)]
	if !ok {
		d.logger.Info("Ignoring unhandled webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
		)
		return StatusIgnored, nil
	}
	return handler(ctx, event)
}

// Replay re-dispatches an archived payload. The payload was verified when it
// was first received, so no signature is checked.
func (d *Dispatcher) Replay(ctx context.Context, payload []byte) (*stripe.Event, string, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, "", fmt.Errorf("failed to decode archived event: %w", err)
	}
	status, err := d.Dispatch(ctx, &event)
	if err != nil {
		return &event, "", err
	}
	return &event, status, nil
}

// stageFromMetadata returns the stage a payment was created for. ok is false
// when the metadata does not describe a stage payment of the wanted kind.
func (d *Dispatcher) stageFromMetadata(event *stripe.Event, metadata map[string]string, kind string) (uuid.UUID, bool) {
	if k := metadata[payments.MetaKind]; k != "" && k != kind {
		return uuid.Nil, false
	}
	raw := metadata[payments.MetaStageID]
	if raw == "" {
		d.logger.Info("Webhook event has no stage metadata",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
		)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		d.logger.Warn("Webhook event has malformed stage id",
			zap.String("event_id", event.ID),
			zap.String("stage_id", raw),
		)
		return uuid.Nil, false
	}
	return id, true
}

func (d *Dispatcher) handlePaymentSucceeded(ctx context.Context, event *stripe.Event) (string, error) {
	var pi paymentIntentObject
	if err := decodeObject(event, &pi); err != nil {
		return "", err
	}
	stageID, ok := d.stageFromMetadata(event, pi.Metadata, payments.KindStagePayment)
	if !ok {
		return StatusIgnored, nil
	}

	_, err := d.reconciler.ConfirmStagePayment(ctx, services.SourceWebhook, services.PaymentConfirmation{
		PaymentIntentID: pi.ID,
		StageID:         stageID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	})
	if err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

func (d *Dispatcher) handlePaymentFailed(ctx context.Context, event *stripe.Event) (string, error) {
	var pi paymentIntentObject
	if err := decodeObject(event, &pi); err != nil {
		return "", err
	}
	stageID, ok := d.stageFromMetadata(event, pi.Metadata, payments.KindStagePayment)
	if !ok {
		return StatusIgnored, nil
	}

	failure := services.PaymentFailure{
		PaymentIntentID: pi.ID,
		StageID:         stageID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	}
	if pi.LastPaymentError != nil {
		failure.Reason = pi.LastPaymentError.Message
	}
	if err := d.reconciler.RecordPaymentFailure(ctx, failure); err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

func (d *Dispatcher) handleAccountUpdated(ctx context.Context, event *stripe.Event) (string, error) {
	var acct accountObject
	if err := decodeObject(event, &acct); err != nil {
		return "", err
	}
	err := d.reconciler.SyncConnectAccount(ctx, acct.ID, ledger.Capabilities{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	})
	if err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (string, error) {
	var session checkoutSessionObject
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}

	if session.Mode == string(stripe.CheckoutSessionModeSubscription) {
		userID := session.ClientReferenceID
		if userID == "" {
			userID = session.Metadata[payments.MetaUserID]
		}
		if err := d.reconciler.LinkCustomer(ctx, userID, session.Customer); err != nil {
			return "", err
		}
		return StatusProcessed, nil
	}

	stageID, ok := d.stageFromMetadata(event, session.Metadata, payments.KindExtension)
	if !ok || session.Metadata[payments.MetaKind] != payments.KindExtension {
		return StatusIgnored, nil
	}
	if session.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
		d.logger.Info("Extension checkout completed without payment",
			zap.String("session_id", session.ID),
			zap.String("payment_status", session.PaymentStatus),
		)
		return StatusIgnored, nil
	}

	_, err := d.reconciler.ConfirmExtensionPayment(ctx, services.SourceWebhook, services.ExtensionConfirmation{
		SessionID: session.ID,
		StageID:   stageID,
		Amount:    session.AmountTotal,
	})
	if err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

func (d *Dispatcher) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) (string, error) {
	var sub subscriptionObject
	if err := decodeObject(event, &sub); err != nil {
		return "", err
	}

	status := sub.Status
	if string(event.Type) == EventSubscriptionDeleted {
		status = models.SubscriptionCanceled
	}
	if err := d.reconciler.SyncSubscription(ctx, sub.Metadata[payments.MetaUserID], status); err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) (string, error) {
	var inv invoiceObject
	if err := decodeObject(event, &inv); err != nil {
		return "", err
	}
	if err := d.reconciler.MarkCustomerPastDue(ctx, inv.Customer); err != nil {
		return "", err
	}
	return StatusProcessed, nil
}

var _ Reconciler = (*services.PaymentService)(nil)
