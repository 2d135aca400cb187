package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JAvZZe/tstr-site/internal/adapters/memory"
	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type verifierStub struct {
	calls [][2]string // listingID, userID
	err   error
}

func (v *verifierStub) VerifyForSubscription(_ context.Context, listingID, userID string) error {
	if v.err != nil {
		return v.err
	}
	v.calls = append(v.calls, [2]string{listingID, userID})
	return nil
}

func newTestService(store *memory.Store, provider *memory.Provider, verifier *verifierStub) *Service {
	tiers := map[string]domain.Tier{
		"P-PRO":  domain.TierProfessional,
		"P-PREM": domain.TierPremium,
	}
	s := New(store, store, verifier, provider, tiers, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	return s
}

func activatedEvent(planID, subID, customID string) Event {
	return Event{
		Type:     EventSubscriptionActivated,
		Resource: Resource{ID: subID, PlanID: planID, CustomID: customID},
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"event_type": "PAYMENT.SALE.COMPLETED",
		"resource": {
			"id": "TXN-1",
			"billing_agreement_id": "I-SUB1",
			"custom_id": "user-1",
			"amount": {"total": "29.00", "currency": "USD"}
		}
	}`)
	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventPaymentCompleted || ev.Resource.ID != "TXN-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Resource.Amount.amount() != 29.0 || ev.Resource.Amount.currency() != "USD" {
		t.Fatalf("amount not parsed: %+v", ev.Resource.Amount)
	}

	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Fatal("malformed body must fail to parse")
	}
}

func TestAmountShapes(t *testing.T) {
	cases := []struct {
		name     string
		a        *Amount
		amount   float64
		currency string
	}{
		{"nil", nil, 0, "USD"},
		{"total/currency", &Amount{Total: "49.00", Currency: "EUR"}, 49, "EUR"},
		{"value/currency_code", &Amount{Value: "9.50", CurrencyCode: "AUD"}, 9.5, "AUD"},
		{"garbage total", &Amount{Total: "abc"}, 0, "USD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.amount(); got != tc.amount {
				t.Fatalf("amount: want %v, got %v", tc.amount, got)
			}
			if got := tc.a.currency(); got != tc.currency {
				t.Fatalf("currency: want %s, got %s", tc.currency, got)
			}
		})
	}
}

func TestParseCorrelation(t *testing.T) {
	cases := []struct {
		in   string
		want correlation
	}{
		{"user-1", correlation{UserID: "user-1"}},
		{"claim_lst9_user-1", correlation{ListingID: "lst9", UserID: "user-1", IsClaim: true}},
		{"claim_lst9_user_with_underscores", correlation{ListingID: "lst9", UserID: "user_with_underscores", IsClaim: true}},
		{"claim_broken", correlation{UserID: "claim_broken"}},
		{"", correlation{}},
	}
	for _, tc := range cases {
		if got := parseCorrelation(tc.in); got != tc.want {
			t.Fatalf("parseCorrelation(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestActivated(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PREM", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	sub, err := store.GetByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Tier != domain.TierPremium || sub.Status != domain.SubscriptionActive {
		t.Fatalf("unexpected state: %+v", sub)
	}
	if sub.ProviderSubscriptionID == nil || *sub.ProviderSubscriptionID != "I-SUB1" {
		t.Fatal("subscription id not recorded")
	}
	if sub.StartDate == nil || !sub.StartDate.Equal(testNow) {
		t.Fatal("start date not stamped")
	}
}

func TestActivatedRedelivery(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})
	ev := activatedEvent("P-PRO", "I-SUB1", "user-1")

	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetByUser(context.Background(), "user-1")

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	second, _ := store.GetByUser(context.Background(), "user-1")
	if !second.StartDate.Equal(*first.StartDate) {
		t.Fatal("redelivery must keep the original start date")
	}
	if second.Status != domain.SubscriptionActive {
		t.Fatalf("want active, got %s", second.Status)
	}
}

func TestActivatedUnknownPlanDefaultsProfessional(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-MYSTERY", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	sub, _ := store.GetByUser(context.Background(), "user-1")
	if sub.Tier != domain.TierProfessional {
		t.Fatalf("want professional fallback, got %s", sub.Tier)
	}
}

func TestActivatedMissingCustomIDAcked(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PRO", "I-SUB1", "")); err != nil {
		t.Fatalf("malformed event must be acknowledged, got %v", err)
	}
	if len(store.Profiles) != 0 {
		t.Fatal("no profile should be written")
	}
}

func TestActivatedCompletesClaim(t *testing.T) {
	store := memory.NewStore()
	verifier := &verifierStub{}
	svc := newTestService(store, &memory.Provider{}, verifier)

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PRO", "I-SUB1", "claim_lst7_user-1")); err != nil {
		t.Fatal(err)
	}
	if len(verifier.calls) != 1 || verifier.calls[0] != [2]string{"lst7", "user-1"} {
		t.Fatalf("claim verification not driven: %+v", verifier.calls)
	}
	sub, _ := store.GetByUser(context.Background(), "user-1")
	if sub.Status != domain.SubscriptionActive {
		t.Fatal("subscription not activated alongside claim")
	}
}

func TestActivatedClaimVerifyFailureRetriable(t *testing.T) {
	store := memory.NewStore()
	verifier := &verifierStub{err: errors.New("db down")}
	svc := newTestService(store, &memory.Provider{}, verifier)

	err := svc.HandleEvent(context.Background(), activatedEvent("P-PRO", "I-SUB1", "claim_lst7_user-1"))
	if err == nil {
		t.Fatal("transient downstream failure must be surfaced for retry")
	}
	if len(store.Profiles) != 0 {
		t.Fatal("activation must not commit when claim verification failed")
	}
}

func saleEvent(txnID, subID, customID string) Event {
	return Event{
		Type: EventPaymentCompleted,
		Resource: Resource{
			ID:                 txnID,
			BillingAgreementID: subID,
			CustomID:           customID,
			Amount:             &Amount{Total: "29.00", Currency: "USD"},
		},
	}
}

func TestPaymentCompleted(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), saleEvent("TXN-1", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("want 1 payment, got %d", len(store.Payments))
	}
	p := store.Payments[0]
	if p.Amount != 29.0 || p.Status != domain.PaymentCompleted {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.TransactionID == nil || *p.TransactionID != "TXN-1" {
		t.Fatal("transaction id not recorded")
	}
	if p.UserID == nil || *p.UserID != "user-1" {
		t.Fatal("user id not recorded")
	}
	sub, err := store.GetByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if sub.LastPaymentAt == nil || !sub.LastPaymentAt.Equal(testNow) {
		t.Fatal("last payment date not stamped")
	}
}

func TestPaymentCompletedDuplicate(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})
	ev := saleEvent("TXN-1", "I-SUB1", "user-1")

	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetByUser(context.Background(), "user-1")

	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("duplicate delivery must not append, got %d payments", len(store.Payments))
	}
	second, _ := store.GetByUser(context.Background(), "user-1")
	if !second.LastPaymentAt.Equal(*first.LastPaymentAt) {
		t.Fatal("duplicate delivery must not move last payment date")
	}
}

func TestPaymentEventsWithoutCorrelation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	// Sale resources only carry a custom id when the provider propagates
	// it; its absence must still settle the ledger entry, not error.
	if err := svc.HandleEvent(context.Background(), saleEvent("TXN-1", "I-SUB1", "")); err != nil {
		t.Fatalf("uncorrelated sale must be acknowledged: %v", err)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("want 1 payment, got %d", len(store.Payments))
	}
	if store.Payments[0].UserID != nil {
		t.Fatalf("user id must be absent, got %q", *store.Payments[0].UserID)
	}
	if len(store.Profiles) != 0 {
		t.Fatal("no profile should be touched without a user id")
	}

	if err := svc.HandleEvent(context.Background(), Event{
		Type:     EventPaymentFailed,
		Resource: Resource{ID: "I-SUB1"},
	}); err != nil {
		t.Fatalf("uncorrelated failure must be acknowledged: %v", err)
	}
	if len(store.Payments) != 2 || store.Payments[1].UserID != nil {
		t.Fatalf("failed entry not recorded with absent user id: %+v", store.Payments)
	}
}

func TestCancelledEndOfPeriod(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PREM", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleEvent(context.Background(), Event{
		Type:     EventSubscriptionCancelled,
		Resource: Resource{ID: "I-SUB1"},
	}); err != nil {
		t.Fatal(err)
	}

	sub, _ := store.GetByUser(context.Background(), "user-1")
	if sub.Status != domain.SubscriptionCancelled {
		t.Fatalf("want cancelled, got %s", sub.Status)
	}
	if sub.EndDate == nil || !sub.EndDate.Equal(testNow) {
		t.Fatal("end date not stamped")
	}
	// Tier keeps until the paid period runs out.
	if sub.Tier != domain.TierPremium {
		t.Fatalf("tier must survive cancellation, got %s", sub.Tier)
	}

	// Redelivered cancellation keeps the original end date.
	svc.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	if err := svc.HandleEvent(context.Background(), Event{
		Type:     EventSubscriptionExpired,
		Resource: Resource{ID: "I-SUB1"},
	}); err != nil {
		t.Fatal(err)
	}
	sub, _ = store.GetByUser(context.Background(), "user-1")
	if !sub.EndDate.Equal(testNow) {
		t.Fatal("redelivery must not move the end date")
	}
}

func TestSuspended(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PRO", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleEvent(context.Background(), Event{
		Type:     EventSubscriptionSuspended,
		Resource: Resource{ID: "I-SUB1"},
	}); err != nil {
		t.Fatal(err)
	}
	sub, _ := store.GetByUser(context.Background(), "user-1")
	if sub.Status != domain.SubscriptionPastDue {
		t.Fatalf("want past_due, got %s", sub.Status)
	}
}

func TestPaymentFailed(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), Event{
		Type:     EventPaymentFailed,
		Resource: Resource{ID: "I-SUB1", CustomID: "user-1"},
	}); err != nil {
		t.Fatal(err)
	}
	if len(store.Payments) != 1 {
		t.Fatalf("want 1 ledger entry, got %d", len(store.Payments))
	}
	p := store.Payments[0]
	if p.Status != domain.PaymentFailed || p.Amount != 0 {
		t.Fatalf("unexpected entry: %+v", p)
	}
	if p.TransactionID != nil {
		t.Fatal("failed payments carry no transaction id")
	}
}

func TestUnknownEventAcked(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	if err := svc.HandleEvent(context.Background(), Event{Type: "CUSTOMER.DISPUTE.CREATED"}); err != nil {
		t.Fatalf("unknown event types are acknowledged, got %v", err)
	}
	if len(store.Payments) != 0 || len(store.Profiles) != 0 {
		t.Fatal("unknown event must not mutate state")
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, &memory.Provider{}, &verifierStub{})

	// Sale lands before the activation that created the subscription.
	if err := svc.HandleEvent(context.Background(), saleEvent("TXN-1", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleEvent(context.Background(), activatedEvent("P-PRO", "I-SUB1", "user-1")); err != nil {
		t.Fatal(err)
	}
	sub, _ := store.GetByUser(context.Background(), "user-1")
	if sub.Status != domain.SubscriptionActive || sub.LastPaymentAt == nil {
		t.Fatalf("out-of-order events must converge: %+v", sub)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := memory.NewStore()
		provider := &memory.Provider{}
		svc := newTestService(store, provider, &verifierStub{})
		if err := svc.HandleEvent(ctx, activatedEvent("P-PRO", "I-SUB1", "user-1")); err != nil {
			t.Fatal(err)
		}

		if err := svc.Cancel(ctx, "user-1", "too expensive"); err != nil {
			t.Fatal(err)
		}
		if len(provider.Cancelled) != 1 || provider.Cancelled[0] != "I-SUB1" {
			t.Fatalf("provider not called: %+v", provider.Cancelled)
		}
		sub, _ := store.GetByUser(ctx, "user-1")
		if sub.Status != domain.SubscriptionCancelled {
			t.Fatalf("want cancelled, got %s", sub.Status)
		}
	})

	t.Run("no subscription", func(t *testing.T) {
		svc := newTestService(memory.NewStore(), &memory.Provider{}, &verifierStub{})
		if err := svc.Cancel(ctx, "user-1", ""); !errors.Is(err, ErrNoSubscription) {
			t.Fatalf("want ErrNoSubscription, got %v", err)
		}
	})

	t.Run("profile without provider subscription", func(t *testing.T) {
		store := memory.NewStore()
		store.Profiles["user-1"] = &domain.Subscription{UserID: "user-1", Tier: domain.TierFree}
		svc := newTestService(store, &memory.Provider{}, &verifierStub{})
		if err := svc.Cancel(ctx, "user-1", ""); !errors.Is(err, ErrNoSubscription) {
			t.Fatalf("want ErrNoSubscription, got %v", err)
		}
	})

	t.Run("provider failure leaves local state", func(t *testing.T) {
		store := memory.NewStore()
		provider := &memory.Provider{CancelErr: ports.ErrProviderUnavailable}
		svc := newTestService(store, provider, &verifierStub{})
		if err := svc.HandleEvent(ctx, activatedEvent("P-PRO", "I-SUB1", "user-1")); err != nil {
			t.Fatal(err)
		}

		err := svc.Cancel(ctx, "user-1", "")
		if !errors.Is(err, ports.ErrProviderUnavailable) {
			t.Fatalf("want provider error surfaced, got %v", err)
		}
		sub, _ := store.GetByUser(ctx, "user-1")
		if sub.Status != domain.SubscriptionActive {
			t.Fatal("local state must stay active when the provider call failed")
		}
	})
}
