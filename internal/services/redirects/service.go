package redirects

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

var (
	ErrInvalidURL = errors.New("invalid URL")

	// ErrListingMismatch: the requested target is not the listing's stored
	// website. The stored value is never echoed back to the caller.
	ErrListingMismatch = errors.New("invalid listing URL")
)

const clickLogTimeout = 5 * time.Second

// Service validates tracked outbound links before redirecting, preventing the
// redirect endpoint from being used as an open redirector, and records click
// events without blocking the redirect.
type Service struct {
	listings ports.ListingRepository
	clicks   ports.ClickRepository
	log      *slog.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

func New(listings ports.ListingRepository, clicks ports.ClickRepository, log *slog.Logger) *Service {
	return &Service{listings: listings, clicks: clicks, log: log, now: time.Now}
}

// Decision is a redirect instruction. Status is always a temporary redirect
// so search engines do not transfer ranking signal to the destination.
type Decision struct {
	Target string
	Status int
}

// Resolve validates the target and, when a listing id is supplied, requires
// the stored website to exactly equal the requested target. On success the
// click event is appended in a detached goroutine; a log-write failure is
// recorded but never changes the redirect outcome.
func (s *Service) Resolve(ctx context.Context, target, listingID, userAgent, referrer string) (Decision, error) {
	if !strings.HasPrefix(target, "http") {
		return Decision{}, ErrInvalidURL
	}

	if listingID != "" {
		listing, err := s.listings.Get(ctx, listingID)
		if err != nil || listing.Website != target {
			return Decision{}, ErrListingMismatch
		}

		click := domain.Click{
			ListingID: listingID,
			URL:       target,
			UserAgent: userAgent,
			Referrer:  referrer,
			CreatedAt: s.now(),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// Detached from the request: the redirect must not wait for
			// the click write.
			logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clickLogTimeout)
			defer cancel()
			if err := s.clicks.Append(logCtx, click); err != nil {
				s.log.Error("click logging failed", "listing_id", listingID, "error", err)
			}
		}()
	}

	return Decision{Target: target, Status: http.StatusFound}, nil
}

// Flush waits for in-flight click writes. Used on shutdown and in tests.
func (s *Service) Flush() { s.wg.Wait() }
