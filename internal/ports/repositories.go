package ports

import (
	"context"
	"errors"
	"time"

	"github.com/JAvZZe/tstr-site/internal/domain"
)

// Sentinel errors shared between the repositories and the services that
// consume them. Adapters map storage-level failures onto these.
var (
	ErrNotFound = errors.New("not found")

	// ErrListingClaimed is returned when a conditional claimed-flag flip
	// finds the listing already claimed.
	ErrListingClaimed = errors.New("listing already claimed")

	// ErrDuplicateClaim is returned when the unique constraint on
	// non-rejected (user, listing) claims is violated.
	ErrDuplicateClaim = errors.New("duplicate claim")
)

// ListingRepository reads listings and performs the one-way claimed flip.
type ListingRepository interface {
	Get(ctx context.Context, id string) (domain.Listing, error)

	// MarkClaimed flips the claimed flag false -> true and stamps claimed_at.
	// Returns ErrListingClaimed when the flag was already set; the flip is
	// conditional so two concurrent claims cannot both succeed.
	MarkClaimed(ctx context.Context, id string, now time.Time) error
}

// ClaimRepository manages ownership claims. Claims are never deleted.
type ClaimRepository interface {
	// CreateVerified inserts a claim already in the verified state and, when
	// the claim is listing-linked, flips the listing's claimed flag in the
	// same transaction. Returns ErrListingClaimed or ErrDuplicateClaim.
	CreateVerified(ctx context.Context, c domain.Claim) (string, error)

	// CreatePending inserts a claim in the pending state carrying a
	// verification token. Returns ErrDuplicateClaim on the unique constraint.
	CreatePending(ctx context.Context, c domain.Claim) (string, error)

	// ActiveForUserListing returns the non-rejected claim for a (user,
	// listing) pair, if any.
	ActiveForUserListing(ctx context.Context, userID, listingID string) (domain.Claim, bool, error)

	// FindPendingByToken returns the pending claim owning the given
	// verification token. ErrNotFound when no such claim exists.
	FindPendingByToken(ctx context.Context, token string) (domain.Claim, error)

	// ConsumeToken transitions the claim to verified, clears the token
	// fields and flips the linked listing's claimed flag, all conditioned on
	// the token still being present and the claim still pending. Returns
	// false when the condition did not hold (token already consumed).
	ConsumeToken(ctx context.Context, claimID, token string, now time.Time) (bool, error)

	// VerifyForListing transitions the non-rejected claim for a (user,
	// listing) pair to verified and flips the listing's claimed flag. Used
	// by the billing reconciler for claims settled via subscription. Both
	// updates are conditional, so redelivery is a no-op.
	VerifyForListing(ctx context.Context, listingID, userID string, now time.Time) error

	// Reject marks a claim rejected. Terminal; the record is kept for audit.
	Reject(ctx context.Context, claimID string, now time.Time) error
}

// DraftRepository stores partially filled submissions addressable by resume token.
type DraftRepository interface {
	Save(ctx context.Context, d domain.Draft) (string, error)
	FindByResumeToken(ctx context.Context, token string) (domain.Draft, error)
}

// ClickRepository appends outbound click events. Append-only.
type ClickRepository interface {
	Append(ctx context.Context, c domain.Click) error
}

// SubscriptionRepository mutates per-user subscription state. All writes are
// idempotent upserts keyed by user id or provider subscription id.
type SubscriptionRepository interface {
	GetByUser(ctx context.Context, userID string) (domain.Subscription, error)

	// Activate sets the user active on the given tier and records the
	// provider subscription id and start date.
	Activate(ctx context.Context, userID string, tier domain.Tier, subscriptionID, paymentMethod string, now time.Time) error

	// RecordLastPayment stamps last_payment_date for the user.
	RecordLastPayment(ctx context.Context, userID string, now time.Time) error

	// CancelBySubscription sets status cancelled and stamps the end date for
	// the profile holding the provider subscription id. Re-delivery leaves
	// the original end date in place.
	CancelBySubscription(ctx context.Context, subscriptionID string, now time.Time) error

	// SuspendBySubscription sets status past_due without changing the tier.
	SuspendBySubscription(ctx context.Context, subscriptionID string) error
}

// PaymentRepository appends settlement ledger entries.
type PaymentRepository interface {
	// Record inserts a payment. When the payment carries a provider
	// transaction id that was already recorded, the insert is skipped and
	// inserted is false.
	Record(ctx context.Context, p domain.Payment) (inserted bool, err error)
}
