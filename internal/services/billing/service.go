package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

// ErrNoSubscription: the user has no provider subscription to cancel.
var ErrNoSubscription = errors.New("no active subscription found")

// ClaimVerifier is the slice of the claims service the reconciler drives when
// a subscription settles a paid claim.
type ClaimVerifier interface {
	VerifyForSubscription(ctx context.Context, listingID, userID string) error
}

// Service reconciles local subscription state against provider webhook
// events. Events arrive at least once and in no particular order, so every
// transition is an idempotent upsert keyed by a stable external identifier.
type Service struct {
	subs     ports.SubscriptionRepository
	payments ports.PaymentRepository
	claims   ClaimVerifier
	provider ports.PaymentProvider
	tiers    map[string]domain.Tier // provider plan id -> tier
	log      *slog.Logger

	now func() time.Time
}

func New(subs ports.SubscriptionRepository, payments ports.PaymentRepository, claims ClaimVerifier, provider ports.PaymentProvider, planTiers map[string]domain.Tier, log *slog.Logger) *Service {
	return &Service{
		subs:     subs,
		payments: payments,
		claims:   claims,
		provider: provider,
		tiers:    planTiers,
		log:      log,
		now:      time.Now,
	}
}

// HandleEvent applies one provider event. Unknown event types are logged and
// acknowledged as no-op successes so the provider does not retry them
// forever; an error return means a transient downstream failure worth a
// retry.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventSubscriptionActivated:
		return s.activated(ctx, ev.Resource)
	case EventPaymentCompleted:
		return s.paymentCompleted(ctx, ev.Resource)
	case EventSubscriptionCancelled, EventSubscriptionExpired:
		return s.cancelled(ctx, ev.Resource)
	case EventSubscriptionSuspended:
		return s.suspended(ctx, ev.Resource)
	case EventPaymentFailed:
		return s.paymentFailed(ctx, ev.Resource)
	default:
		s.log.Info("unhandled webhook event", "event_type", ev.Type)
		return nil
	}
}

func (s *Service) activated(ctx context.Context, r Resource) error {
	corr := parseCorrelation(r.CustomID)
	if corr.UserID == "" {
		// Permanently malformed: nothing to correlate the event to.
		// Acknowledge so the provider stops redelivering.
		s.log.Warn("activation event without custom id", "subscription_id", r.subscriptionID())
		return nil
	}

	tier := s.tierFor(r.PlanID)

	if corr.IsClaim && corr.ListingID != "" {
		// Subscription activation is itself what completes a paid claim.
		if err := s.claims.VerifyForSubscription(ctx, corr.ListingID, corr.UserID); err != nil {
			return err
		}
	}

	if err := s.subs.Activate(ctx, corr.UserID, tier, r.subscriptionID(), "paypal", s.now()); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	s.log.Info("subscription activated", "user_id", corr.UserID, "tier", tier, "subscription_id", r.subscriptionID())
	return nil
}

func (s *Service) paymentCompleted(ctx context.Context, r Resource) error {
	corr := parseCorrelation(r.CustomID)
	txnID := r.ID
	subID := r.BillingAgreementID

	p := domain.Payment{
		UserID:      corr.userIDOrNil(),
		Amount:      r.Amount.amount(),
		Currency:    r.Amount.currency(),
		Tier:        string(s.tierForOrUnknown(r.BillingAgreementID)),
		Status:      domain.PaymentCompleted,
		Description: "Monthly subscription payment",
		CreatedAt:   s.now(),
	}
	if txnID != "" {
		p.TransactionID = &txnID
	}
	if subID != "" {
		p.SubscriptionID = &subID
	}

	inserted, err := s.payments.Record(ctx, p)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if !inserted {
		// Duplicate delivery of the same transaction: first write won.
		s.log.Info("duplicate payment event ignored", "transaction_id", txnID)
		return nil
	}
	if corr.UserID != "" {
		if err := s.subs.RecordLastPayment(ctx, corr.UserID, s.now()); err != nil {
			return fmt.Errorf("record last payment: %w", err)
		}
	}
	s.log.Info("payment recorded", "user_id", corr.UserID, "amount", p.Amount, "transaction_id", txnID)
	return nil
}

// cancelled flips status and stamps the end date. The tier is left in place
// until the paid period runs out (end-of-period downgrade); redelivery keeps
// the original end date.
func (s *Service) cancelled(ctx context.Context, r Resource) error {
	subID := r.subscriptionID()
	if subID == "" {
		s.log.Warn("cancellation event without subscription id")
		return nil
	}
	if err := s.subs.CancelBySubscription(ctx, subID, s.now()); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	s.log.Info("subscription cancelled", "subscription_id", subID)
	return nil
}

func (s *Service) suspended(ctx context.Context, r Resource) error {
	subID := r.subscriptionID()
	if subID == "" {
		s.log.Warn("suspension event without subscription id")
		return nil
	}
	if err := s.subs.SuspendBySubscription(ctx, subID); err != nil {
		return fmt.Errorf("suspend subscription: %w", err)
	}
	s.log.Info("subscription suspended", "subscription_id", subID)
	return nil
}

// paymentFailed appends a zero-amount failed ledger entry. Subscription
// status is driven by the separate suspension event, not by this one.
func (s *Service) paymentFailed(ctx context.Context, r Resource) error {
	corr := parseCorrelation(r.CustomID)
	subID := r.subscriptionID()
	p := domain.Payment{
		UserID:      corr.userIDOrNil(),
		Amount:      0,
		Currency:    r.Amount.currency(),
		Tier:        "unknown",
		Status:      domain.PaymentFailed,
		Description: "Payment failed",
		CreatedAt:   s.now(),
	}
	if subID != "" {
		p.SubscriptionID = &subID
	}
	if _, err := s.payments.Record(ctx, p); err != nil {
		return fmt.Errorf("record failed payment: %w", err)
	}
	s.log.Info("failed payment recorded", "user_id", corr.UserID, "subscription_id", subID)
	return nil
}

// Cancel is a user-initiated cancellation: the provider is asked first, and
// only then is the local transition applied. Provider responses meaning
// "already cancelled" or "not found" count as success.
func (s *Service) Cancel(ctx context.Context, userID, reason string) error {
	sub, err := s.subs.GetByUser(ctx, userID)
	if errors.Is(err, ports.ErrNotFound) {
		return ErrNoSubscription
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID == "" {
		return ErrNoSubscription
	}

	if reason == "" {
		reason = "User requested cancellation"
	}
	if err := s.provider.CancelSubscription(ctx, *sub.ProviderSubscriptionID, reason); err != nil {
		// Local state stays untouched; the failure is surfaced.
		return err
	}

	if err := s.subs.CancelBySubscription(ctx, *sub.ProviderSubscriptionID, s.now()); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	s.log.Info("subscription cancelled by user", "user_id", userID, "subscription_id", *sub.ProviderSubscriptionID)
	return nil
}

func (s *Service) tierFor(planID string) domain.Tier {
	if t, ok := s.tiers[planID]; ok {
		return t
	}
	return domain.TierProfessional
}

func (s *Service) tierForOrUnknown(planID string) domain.Tier {
	if t, ok := s.tiers[planID]; ok {
		return t
	}
	return "unknown"
}
