// Package webhook authenticates Stripe webhook deliveries and routes them to
// the payment service.
package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const SignatureHeader = "Stripe-Signature"

// MaxBodyBytes caps the payload read from a webhook request.
const MaxBodyBytes = 1 << 20

var ErrAuthentication = errors.New("webhook authentication failed")

// Authenticator verifies the Stripe-Signature header of one endpoint.
type Authenticator struct {
	secret    string
	tolerance time.Duration
}

func NewAuthenticator(secret string, tolerance time.Duration) *Authenticator {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Authenticator{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
	}
}

// Verify checks the signature over the raw payload and returns the parsed
// event. Every failure wraps ErrAuthentication.
func (a *Authenticator) Verify(payload []byte, header string) (*stripe.Event, error) {
	if a.secret == "" {
		return nil, fmt.Errorf("%w: signing secret is not configured", ErrAuthentication)
	}
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrAuthentication, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, a.secret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return &event, nil
}
