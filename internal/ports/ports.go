package ports

import (
	"context"
	"errors"
)

// Upstream failure classes for outbound payment-provider calls. Transport
// failures map to ErrProviderUnavailable, non-success responses to
// ErrProviderError; local state is untouched in both cases.
var (
	ErrProviderUnavailable = errors.New("payment provider unreachable")
	ErrProviderError       = errors.New("payment provider error")
)

// Email is an outbound message, already rendered by the caller.
type Email struct {
	Subject string
	HTML    string
	Text    string
}

// EmailSender delivers transactional mail. Callers treat a failure as a
// reportable partial success, never as a reason to roll back local state.
type EmailSender interface {
	Send(ctx context.Context, to string, msg Email) error
}

// WebhookSignature carries the provider's signature headers for verification.
type WebhookSignature struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// PaymentProvider is the outbound surface of the payment processor.
type PaymentProvider interface {
	// CancelSubscription requests cancellation. "Already cancelled" and
	// "not found" responses from the provider count as success.
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error

	// VerifyWebhook checks an inbound event's signature with the provider.
	VerifyWebhook(ctx context.Context, sig WebhookSignature, body []byte) (bool, error)
}
