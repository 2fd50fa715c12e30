// Package notify delivers e-mail notifications off the request path.
package notify

import "context"

// Templates understood by the notification endpoint.
const (
	TemplatePaymentReceived    = "payment_received"
	TemplateStageUnlocked      = "stage_unlocked"
	TemplateExtensionPurchased = "extension_purchased"
)

type Job struct {
	Type string         `json:"type"`
	To   string         `json:"to"`
	Data map[string]any `json:"data"`
}

// Notifier accepts a job without waiting for delivery. It reports false
// when the job was dropped.
type Notifier interface {
	Notify(job Job) bool
}

// Sender delivers a single job and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, job Job) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, job Job) (string, error)

func (f SenderFunc) Send(ctx context.Context, job Job) (string, error) {
	return f(ctx, job)
}

// Discard is a Notifier that drops everything. Used when notifications are not configured.
type Discard struct{}

func (Discard) Notify(Job) bool { return false }
