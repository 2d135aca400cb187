package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
	"github.com/JAvZZe/tstr-site/internal/verify"
)

var (
	// ErrAuthRequired: listing-linked claims need an authenticated user.
	ErrAuthRequired = errors.New("authentication required")

	ErrListingNotFound = errors.New("listing not found")

	// ErrAlreadyClaimed: the listing's claimed flag is already set.
	ErrAlreadyClaimed = errors.New("listing has already been claimed")

	// ErrDuplicateClaim: the (user, listing) pair already has a pending claim.
	ErrDuplicateClaim = errors.New("a pending claim already exists for this listing")

	// ErrAlreadyOwner: the (user, listing) pair already has a verified claim.
	ErrAlreadyOwner = errors.New("you are already the owner of this listing")

	ErrInvalidToken = errors.New("invalid verification token")
	ErrTokenExpired = errors.New("verification token has expired")
	ErrInvalidCode  = errors.New("invalid verification code")

	ErrInvalidOrExpiredResume = errors.New("invalid or expired resume token")
)

// ValidationError reports a rejected submission before it reaches the state
// machine.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

var codeRe = regexp.MustCompile(`^\d{6}$`)

// Service owns the claim lifecycle: submitted -> pending|verified, pending ->
// verified on token redemption, terminal rejected.
type Service struct {
	listings ports.ListingRepository
	claims   ports.ClaimRepository
	drafts   ports.DraftRepository
	sender   ports.EmailSender
	log      *slog.Logger

	now func() time.Time
}

func New(listings ports.ListingRepository, claims ports.ClaimRepository, drafts ports.DraftRepository, sender ports.EmailSender, log *slog.Logger) *Service {
	return &Service{
		listings: listings,
		claims:   claims,
		drafts:   drafts,
		sender:   sender,
		log:      log,
		now:      time.Now,
	}
}

// SubmitInput is a claim submission, standalone or listing-linked.
type SubmitInput struct {
	UserID        string // empty for anonymous submissions
	UserEmail     string // account email when authenticated
	ProviderName  string
	ContactName   string
	BusinessEmail string
	Phone         string
	Website       string
	ListingID     string // empty for standalone submissions
}

// Result describes the outcome of a claim operation.
type Result struct {
	ClaimID        string
	Method         string // "auto" or "manual"
	Status         domain.ClaimStatus
	VerifiedAt     *time.Time
	TokenExpiresAt *time.Time

	// EmailDelivered is false when the claim was created but the
	// verification email could not be sent (partial success).
	EmailDelivered bool
}

// Submit validates a submission, runs the domain matcher and creates the
// claim in either the verified (auto) or pending (manual) state. On the
// manual path the verification token is delivered to the listing's registered
// contact address, not to the requester.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Result, error) {
	if in.ProviderName == "" || in.ContactName == "" || in.BusinessEmail == "" {
		return Result{}, &ValidationError{Msg: "provider_name, contact_name, and business_email are required"}
	}
	if !verify.IsValidEmail(in.BusinessEmail) {
		return Result{}, &ValidationError{Msg: "invalid email format"}
	}

	matchEmail := in.BusinessEmail
	if in.UserEmail != "" {
		matchEmail = in.UserEmail
	}

	if in.ListingID != "" {
		if in.UserID == "" {
			return Result{}, ErrAuthRequired
		}
		listing, err := s.lookupClaimable(ctx, in.UserID, in.ListingID)
		if err != nil {
			return Result{}, err
		}
		return s.create(ctx, claimFor(in, listing), matchEmail, listing.Website, contactOrFallback(listing, in.BusinessEmail))
	}

	c := claimFor(in, domain.Listing{})
	return s.create(ctx, c, matchEmail, in.Website, in.BusinessEmail)
}

// ClaimListing claims an existing listing on behalf of an authenticated user,
// using the account email as the domain-match input.
func (s *Service) ClaimListing(ctx context.Context, userID, userEmail, listingID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrAuthRequired
	}
	if listingID == "" {
		return Result{}, &ValidationError{Msg: "missing listing ID"}
	}
	listing, err := s.lookupClaimable(ctx, userID, listingID)
	if err != nil {
		return Result{}, err
	}
	c := domain.Claim{
		UserID:        &userID,
		ListingID:     &listingID,
		ProviderName:  listing.Name,
		BusinessEmail: userEmail,
	}
	return s.create(ctx, c, userEmail, listing.Website, contactOrFallback(listing, userEmail))
}

// lookupClaimable fetches a listing and rejects claims that are not legal
// from its current state.
func (s *Service) lookupClaimable(ctx context.Context, userID, listingID string) (domain.Listing, error) {
	listing, err := s.listings.Get(ctx, listingID)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.Listing{}, ErrListingNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("load listing: %w", err)
	}
	if listing.Claimed {
		return domain.Listing{}, ErrAlreadyClaimed
	}
	existing, found, err := s.claims.ActiveForUserListing(ctx, userID, listingID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("check existing claim: %w", err)
	}
	if found {
		if existing.Status == domain.ClaimVerified {
			return domain.Listing{}, ErrAlreadyOwner
		}
		return domain.Listing{}, ErrDuplicateClaim
	}
	return listing, nil
}

// create runs the domain matcher and takes the auto or manual path.
func (s *Service) create(ctx context.Context, c domain.Claim, matchEmail, matchSite, tokenRecipient string) (Result, error) {
	now := s.now()
	c.CreatedAt = now

	if verify.CanAutoClaim(matchEmail, matchSite) {
		c.Status = domain.ClaimVerified
		c.Method = domain.MethodDomainMatch
		c.VerifiedAt = &now
		id, err := s.claims.CreateVerified(ctx, c)
		if err != nil {
			return Result{}, s.mapConflict(err)
		}
		s.log.Info("claim auto-verified", "claim_id", id, "listing_id", strOrEmpty(c.ListingID))
		return Result{ClaimID: id, Method: "auto", Status: domain.ClaimVerified, VerifiedAt: &now, EmailDelivered: true}, nil
	}

	token := verify.NewVerificationToken()
	expires := now.Add(verify.VerificationTokenTTL)
	c.Status = domain.ClaimPending
	c.Method = domain.MethodEmailVerification
	c.Token = &token
	c.TokenExpiresAt = &expires

	id, err := s.claims.CreatePending(ctx, c)
	if err != nil {
		return Result{}, s.mapConflict(err)
	}

	res := Result{ClaimID: id, Method: "manual", Status: domain.ClaimPending, TokenExpiresAt: &expires, EmailDelivered: true}

	// Claim stands even when the email fails; the caller is told delivery
	// did not happen.
	msg := verificationEmail(c.ProviderName, token, expires)
	if err := s.sender.Send(ctx, tokenRecipient, msg); err != nil {
		s.log.Error("verification email failed", "claim_id", id, "error", err)
		res.EmailDelivered = false
	}
	return res, nil
}

func (s *Service) mapConflict(err error) error {
	switch {
	case errors.Is(err, ports.ErrListingClaimed):
		return ErrAlreadyClaimed
	case errors.Is(err, ports.ErrDuplicateClaim):
		return ErrDuplicateClaim
	default:
		return fmt.Errorf("create claim: %w", err)
	}
}

// RedeemToken consumes a verification token. The consume is a conditional
// update, so two concurrent redemptions of the same token cannot both
// succeed. Expired tokens stay in place for audit but can no longer be
// redeemed.
func (s *Service) RedeemToken(ctx context.Context, userID, token, code string) (Result, error) {
	if token == "" || code == "" {
		return Result{}, &ValidationError{Msg: "missing verification token or code"}
	}
	claim, err := s.claims.FindPendingByToken(ctx, token)
	if errors.Is(err, ports.ErrNotFound) {
		return Result{}, ErrInvalidToken
	}
	if err != nil {
		return Result{}, fmt.Errorf("find claim by token: %w", err)
	}
	if claim.UserID != nil && (userID == "" || *claim.UserID != userID) {
		return Result{}, ErrInvalidToken
	}
	now := s.now()
	if claim.TokenExpiresAt == nil || verify.Expired(*claim.TokenExpiresAt, now) {
		return Result{}, ErrTokenExpired
	}
	if !codeRe.MatchString(code) {
		return Result{}, ErrInvalidCode
	}

	ok, err := s.claims.ConsumeToken(ctx, claim.ID, token, now)
	if err != nil {
		return Result{}, fmt.Errorf("consume token: %w", err)
	}
	if !ok {
		// Lost a race: the token was consumed between lookup and update.
		return Result{}, ErrInvalidToken
	}
	s.log.Info("claim verified by token", "claim_id", claim.ID, "listing_id", strOrEmpty(claim.ListingID))
	return Result{ClaimID: claim.ID, Method: "manual", Status: domain.ClaimVerified, VerifiedAt: &now, EmailDelivered: true}, nil
}

// DraftReceipt is returned from SaveDraft.
type DraftReceipt struct {
	ResumeToken string
	ExpiresAt   time.Time
}

// SaveDraft stores a raw submission for later completion. No Claim record is
// created.
func (s *Service) SaveDraft(ctx context.Context, payload []byte) (DraftReceipt, error) {
	if len(payload) == 0 {
		return DraftReceipt{}, &ValidationError{Msg: "empty draft"}
	}
	now := s.now()
	d := domain.Draft{
		ResumeToken: verify.NewResumeToken(),
		Payload:     payload,
		ExpiresAt:   now.Add(verify.ResumeTokenTTL),
		CreatedAt:   now,
	}
	if _, err := s.drafts.Save(ctx, d); err != nil {
		return DraftReceipt{}, fmt.Errorf("save draft: %w", err)
	}
	return DraftReceipt{ResumeToken: d.ResumeToken, ExpiresAt: d.ExpiresAt}, nil
}

// ResumeDraft returns the stored payload for form re-population. Read-only.
func (s *Service) ResumeDraft(ctx context.Context, resumeToken string) (domain.Draft, error) {
	if resumeToken == "" {
		return domain.Draft{}, ErrInvalidOrExpiredResume
	}
	d, err := s.drafts.FindByResumeToken(ctx, resumeToken)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.Draft{}, ErrInvalidOrExpiredResume
	}
	if err != nil {
		return domain.Draft{}, fmt.Errorf("find draft: %w", err)
	}
	if verify.Expired(d.ExpiresAt, s.now()) {
		return domain.Draft{}, ErrInvalidOrExpiredResume
	}
	return d, nil
}

// VerifyForSubscription completes the claim for a (listing, user) pair whose
// payment settled via subscription. Driven by the billing reconciler;
// redelivery is a no-op.
func (s *Service) VerifyForSubscription(ctx context.Context, listingID, userID string) error {
	if err := s.claims.VerifyForListing(ctx, listingID, userID, s.now()); err != nil {
		return fmt.Errorf("verify claim for subscription: %w", err)
	}
	s.log.Info("claim verified via subscription", "listing_id", listingID, "user_id", userID)
	return nil
}

// Reject marks a claim rejected. Terminal.
func (s *Service) Reject(ctx context.Context, claimID string) error {
	if err := s.claims.Reject(ctx, claimID, s.now()); err != nil {
		return fmt.Errorf("reject claim: %w", err)
	}
	return nil
}

func claimFor(in SubmitInput, listing domain.Listing) domain.Claim {
	c := domain.Claim{
		ProviderName:  in.ProviderName,
		ContactName:   in.ContactName,
		BusinessEmail: in.BusinessEmail,
		Phone:         in.Phone,
		Website:       in.Website,
	}
	if in.UserID != "" {
		uid := in.UserID
		c.UserID = &uid
	}
	if in.ListingID != "" {
		lid := in.ListingID
		c.ListingID = &lid
	}
	if listing.Website != "" && c.Website == "" {
		c.Website = listing.Website
	}
	return c
}

func contactOrFallback(listing domain.Listing, fallback string) string {
	if listing.ContactEmail != "" {
		return listing.ContactEmail
	}
	return fallback
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func verificationEmail(providerName, token string, expires time.Time) ports.Email {
	subject := "Verify your listing ownership"
	text := fmt.Sprintf(
		"A claim was started for %q. Enter this code to verify ownership: %s\nThe code expires at %s.",
		providerName, token, expires.UTC().Format(time.RFC1123),
	)
	html := fmt.Sprintf(
		"<p>A claim was started for <strong>%s</strong>.</p><p>Enter this code to verify ownership: <strong>%s</strong></p><p>The code expires at %s.</p>",
		providerName, token, expires.UTC().Format(time.RFC1123),
	)
	return ports.Email{Subject: subject, HTML: html, Text: text}
}
