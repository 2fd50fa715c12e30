package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"milestage-backend/internal/ledger"
	"milestage-backend/internal/metrics"
)

// Archiver keeps verified payloads for replay. Archive must return without
// waiting on the store; failures must not block processing.
type Archiver interface {
	Archive(eventID string, payload []byte)
}

// Result describes how a delivery was handled.
type Result struct {
	EventID   string
	EventType string
	Status    string
}

// Receiver runs one endpoint's pipeline: verify, deduplicate, archive, dispatch.
type Receiver struct {
	auth       *Authenticator
	dispatcher *Dispatcher
	deduper    Deduper
	archive    Archiver
	logger     *zap.Logger
}

// NewReceiver builds a receiver. deduper and archive may be nil.
func NewReceiver(auth *Authenticator, dispatcher *Dispatcher, deduper Deduper, archive Archiver, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		auth:       auth,
		dispatcher: dispatcher,
		deduper:    deduper,
		archive:    archive,
		logger:     logger,
	}
}

// Receive processes one delivery. Authentication failures wrap
// ErrAuthentication and leave no trace; a concurrent delivery of the same
// event returns ErrInFlight. Permanent failures are reported as StatusFailed
// with a nil error; any other error means Stripe should retry.
func (r *Receiver) Receive(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := r.auth.Verify(payload, signature)
	if err != nil {
		metrics.RecordWebhookEvent("unknown", "rejected")
		return nil, err
	}

	result := &Result{EventID: event.ID, EventType: string(event.Type)}
	logger := r.logger.With(
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
	)

	if r.deduper != nil {
		state, err := r.deduper.Begin(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", event.ID, err)
		}
		switch state {
		case DedupDuplicate:
			metrics.RecordWebhookEvent(result.EventType, StatusDuplicate)
			logger.Info("Duplicate webhook event")
			result.Status = StatusDuplicate
			return result, nil
		case DedupInFlight:
			metrics.RecordWebhookEvent(result.EventType, "in_flight")
			logger.Warn("Webhook event is in flight, asking Stripe to retry")
			return nil, ErrInFlight
		}
	}

	if r.archive != nil && r.dispatcher.Handles(result.EventType) {
		r.archive.Archive(event.ID, payload)
	}

	status, err := r.dispatch(ctx, event)
	if err != nil {
		if r.deduper != nil {
			if relErr := r.deduper.Release(ctx, event.ID); relErr != nil {
				logger.Warn("Failed to release dedup claim", zap.Error(relErr))
			}
		}
		if IsPermanent(err) {
			metrics.RecordWebhookEvent(result.EventType, StatusFailed)
			logger.Error("Webhook event cannot be applied, acknowledging", zap.Error(err))
			result.Status = StatusFailed
			return result, nil
		}
		metrics.RecordWebhookEvent(result.EventType, "error")
		logger.Error("Webhook processing failed", zap.Error(err))
		return nil, err
	}

	if r.deduper != nil {
		if err := r.deduper.Complete(ctx, event.ID); err != nil {
			logger.Warn("Failed to record processed event", zap.Error(err))
		}
	}

	metrics.RecordWebhookEvent(result.EventType, status)
	logger.Info("Webhook event handled", zap.String("status", status))
	result.Status = status
	return result, nil
}

func (r *Receiver) dispatch(ctx context.Context, event *stripe.Event) (string, error) {
	status, err := r.dispatcher.Dispatch(ctx, event)
	if err != nil {
		return "", fmt.Errorf("failed to process %s event %s: %w", event.Type, event.ID, err)
	}
	return status, nil
}

// IsPermanent reports whether retrying the event can never succeed: the stage
// or account it names does not exist, or its data is invalid.
func IsPermanent(err error) bool {
	return errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrValidation)
}
