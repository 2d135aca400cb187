// Package memory provides in-memory implementations of the repository and
// collaborator ports. Used by tests and local development; the semantics
// mirror the postgres adapter, including the conditional updates the
// invariants rely on.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

// Store implements every repository port over process memory.
type Store struct {
	mu sync.Mutex

	Listings map[string]*domain.Listing
	Claims   map[string]*domain.Claim
	Drafts   map[string]*domain.Draft
	Clicks   []domain.Click
	Profiles map[string]*domain.Subscription
	Payments []domain.Payment

	// AppendErr lets tests inject click-log failures.
	AppendErr error

	seq int
}

func NewStore() *Store {
	return &Store{
		Listings: make(map[string]*domain.Listing),
		Claims:   make(map[string]*domain.Claim),
		Drafts:   make(map[string]*domain.Draft),
		Profiles: make(map[string]*domain.Subscription),
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

// AddListing seeds a listing and returns its id.
func (s *Store) AddListing(l domain.Listing) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = s.nextID("lst")
	}
	if l.Status == "" {
		l.Status = domain.ListingActive
	}
	s.Listings[l.ID] = &l
	return l.ID
}

// ListingRepository

func (s *Store) Get(_ context.Context, id string) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Listings[id]
	if !ok {
		return domain.Listing{}, ports.ErrNotFound
	}
	return *l, nil
}

func (s *Store) MarkClaimed(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.Listings[id]
	if !ok {
		return ports.ErrNotFound
	}
	if l.Claimed {
		return ports.ErrListingClaimed
	}
	l.Claimed = true
	l.ClaimedAt = &now
	return nil
}

// ClaimRepository

func (s *Store) hasActiveClaim(userID *string, listingID *string) bool {
	if userID == nil || listingID == nil {
		return false
	}
	for _, c := range s.Claims {
		if c.UserID != nil && c.ListingID != nil &&
			*c.UserID == *userID && *c.ListingID == *listingID &&
			c.Status != domain.ClaimRejected {
			return true
		}
	}
	return false
}

func (s *Store) CreateVerified(_ context.Context, c domain.Claim) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasActiveClaim(c.UserID, c.ListingID) {
		return "", ports.ErrDuplicateClaim
	}
	if c.ListingID != nil {
		l, ok := s.Listings[*c.ListingID]
		if !ok {
			return "", ports.ErrNotFound
		}
		if l.Claimed {
			return "", ports.ErrListingClaimed
		}
		l.Claimed = true
		at := c.CreatedAt
		l.ClaimedAt = &at
	}
	c.ID = s.nextID("clm")
	s.Claims[c.ID] = &c
	return c.ID, nil
}

func (s *Store) CreatePending(_ context.Context, c domain.Claim) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasActiveClaim(c.UserID, c.ListingID) {
		return "", ports.ErrDuplicateClaim
	}
	c.ID = s.nextID("clm")
	s.Claims[c.ID] = &c
	return c.ID, nil
}

func (s *Store) ActiveForUserListing(_ context.Context, userID, listingID string) (domain.Claim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Claims {
		if c.UserID != nil && c.ListingID != nil &&
			*c.UserID == userID && *c.ListingID == listingID &&
			c.Status != domain.ClaimRejected {
			return *c, true, nil
		}
	}
	return domain.Claim{}, false, nil
}

func (s *Store) FindPendingByToken(_ context.Context, token string) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Claims {
		if c.Token != nil && *c.Token == token && c.Status == domain.ClaimPending {
			return *c, nil
		}
	}
	return domain.Claim{}, ports.ErrNotFound
}

func (s *Store) ConsumeToken(_ context.Context, claimID, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Claims[claimID]
	if !ok || c.Token == nil || *c.Token != token || c.Status != domain.ClaimPending {
		return false, nil
	}
	if c.TokenExpiresAt == nil || !c.TokenExpiresAt.After(now) {
		return false, nil
	}
	c.Status = domain.ClaimVerified
	c.VerifiedAt = &now
	c.Token = nil
	c.TokenExpiresAt = nil
	if c.ListingID != nil {
		if l, ok := s.Listings[*c.ListingID]; ok && !l.Claimed {
			l.Claimed = true
			l.ClaimedAt = &now
		}
	}
	return true, nil
}

func (s *Store) VerifyForListing(_ context.Context, listingID, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Claims {
		if c.UserID != nil && c.ListingID != nil &&
			*c.UserID == userID && *c.ListingID == listingID &&
			c.Status == domain.ClaimPending {
			c.Status = domain.ClaimVerified
			c.VerifiedAt = &now
			c.Token = nil
			c.TokenExpiresAt = nil
		}
	}
	if l, ok := s.Listings[listingID]; ok && !l.Claimed {
		l.Claimed = true
		l.ClaimedAt = &now
	}
	return nil
}

func (s *Store) Reject(_ context.Context, claimID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Claims[claimID]
	if !ok || c.Status == domain.ClaimRejected {
		return ports.ErrNotFound
	}
	c.Status = domain.ClaimRejected
	return nil
}

// DraftRepository

func (s *Store) Save(_ context.Context, d domain.Draft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID("drf")
	s.Drafts[d.ResumeToken] = &d
	return d.ID, nil
}

func (s *Store) FindByResumeToken(_ context.Context, token string) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.Drafts[token]
	if !ok {
		return domain.Draft{}, ports.ErrNotFound
	}
	return *d, nil
}

// ClickRepository

func (s *Store) Append(_ context.Context, c domain.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Clicks = append(s.Clicks, c)
	return nil
}

// SubscriptionRepository

func (s *Store) GetByUser(_ context.Context, userID string) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok {
		return domain.Subscription{}, ports.ErrNotFound
	}
	return *p, nil
}

func (s *Store) Activate(_ context.Context, userID string, tier domain.Tier, subscriptionID, paymentMethod string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok {
		p = &domain.Subscription{UserID: userID}
		s.Profiles[userID] = p
	}
	p.Tier = tier
	p.Status = domain.SubscriptionActive
	p.ProviderSubscriptionID = &subscriptionID
	if p.StartDate == nil {
		p.StartDate = &now
	}
	p.EndDate = nil
	p.PaymentMethod = paymentMethod
	return nil
}

func (s *Store) RecordLastPayment(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Profiles[userID]
	if !ok {
		p = &domain.Subscription{UserID: userID}
		s.Profiles[userID] = p
	}
	p.LastPaymentAt = &now
	return nil
}

func (s *Store) CancelBySubscription(_ context.Context, subscriptionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Profiles {
		if p.ProviderSubscriptionID != nil && *p.ProviderSubscriptionID == subscriptionID &&
			p.Status != domain.SubscriptionCancelled {
			p.Status = domain.SubscriptionCancelled
			p.EndDate = &now
		}
	}
	return nil
}

func (s *Store) SuspendBySubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Profiles {
		if p.ProviderSubscriptionID != nil && *p.ProviderSubscriptionID == subscriptionID {
			p.Status = domain.SubscriptionPastDue
		}
	}
	return nil
}

// PaymentRepository

func (s *Store) Record(_ context.Context, p domain.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.TransactionID != nil {
		for _, existing := range s.Payments {
			if existing.TransactionID != nil && *existing.TransactionID == *p.TransactionID {
				return false, nil
			}
		}
	}
	p.ID = s.nextID("pay")
	s.Payments = append(s.Payments, p)
	return true, nil
}
