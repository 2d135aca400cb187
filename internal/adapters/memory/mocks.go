package memory

import (
	"context"
	"sync"

	"github.com/JAvZZe/tstr-site/internal/ports"
)

// SentEmail records one delivery attempt.
type SentEmail struct {
	To  string
	Msg ports.Email
}

// Sender is an EmailSender test double that records sends and returns a
// configurable error.
type Sender struct {
	mu      sync.Mutex
	Sent    []SentEmail
	SendErr error
}

func (s *Sender) Send(_ context.Context, to string, msg ports.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, SentEmail{To: to, Msg: msg})
	return nil
}

// Provider is a PaymentProvider test double.
type Provider struct {
	mu        sync.Mutex
	Cancelled []string
	CancelErr error
	Verified  bool
	VerifyErr error
}

func (p *Provider) CancelSubscription(_ context.Context, subscriptionID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CancelErr != nil {
		return p.CancelErr
	}
	p.Cancelled = append(p.Cancelled, subscriptionID)
	return nil
}

func (p *Provider) VerifyWebhook(_ context.Context, _ ports.WebhookSignature, _ []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VerifyErr != nil {
		return false, p.VerifyErr
	}
	return p.Verified, nil
}
