package domain

import "time"

// Core domain models used internally. Persistence shapes live in the postgres
// adapter; keep these decoupled where helpful.

type ListingStatus string

const (
	ListingPending ListingStatus = "pending"
	ListingActive  ListingStatus = "active"
	ListingRemoved ListingStatus = "removed"
)

// Listing is a business record in the directory. The Claimed flag only ever
// transitions false -> true, and only through the claims service.
type Listing struct {
	ID           string
	Name         string
	Website      string
	ContactEmail string
	Claimed      bool
	ClaimedAt    *time.Time
	Status       ListingStatus
}

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimVerified ClaimStatus = "verified"
	ClaimRejected ClaimStatus = "rejected"
)

type VerificationMethod string

const (
	MethodDomainMatch       VerificationMethod = "domain_match"
	MethodEmailVerification VerificationMethod = "email_verification"
	MethodAdminApproval     VerificationMethod = "admin_approval"
)

// Claim is one user's assertion of ownership over one listing, or a standalone
// "claim my business" submission not yet tied to a listing. Claims are never
// deleted; rejected is terminal and kept for audit.
type Claim struct {
	ID             string
	UserID         *string // nil for anonymous submissions
	ListingID      *string // nil for standalone submissions
	ProviderName   string
	ContactName    string
	BusinessEmail  string
	Phone          string
	Website        string
	Status         ClaimStatus
	Method         VerificationMethod
	Token          *string // manual path only; cleared on consumption
	TokenExpiresAt *time.Time
	CreatedAt      time.Time
	VerifiedAt     *time.Time
}

// Draft is a partially filled claim saved before final submission, addressable
// by a resume token. Superseded once resumed and submitted, or once expired.
type Draft struct {
	ID          string
	ResumeToken string
	Payload     []byte // raw submission JSON, returned as-is on resume
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Click is an append-only record of an outbound redirect.
type Click struct {
	ListingID string
	URL       string
	UserAgent string
	Referrer  string
	CreatedAt time.Time
}

type Tier string

const (
	TierFree         Tier = "free"
	TierProfessional Tier = "professional"
	TierPremium      Tier = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the per-user subscription state. Mutated exclusively by the
// billing reconciler in response to provider events.
type Subscription struct {
	UserID                 string
	Tier                   Tier
	Status                 SubscriptionStatus
	ProviderSubscriptionID *string
	StartDate              *time.Time
	EndDate                *time.Time
	LastPaymentAt          *time.Time
	PaymentMethod          string
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is an append-only ledger entry per settlement attempt, keyed by the
// provider transaction id for deduplication.
type Payment struct {
	ID             string
	UserID         *string // nil when the event carried no correlation id
	Amount         float64
	Currency       string
	TransactionID  *string // nil for failed attempts that never settled
	SubscriptionID *string
	Tier           string
	Status         PaymentStatus
	Description    string
	CreatedAt      time.Time
}
