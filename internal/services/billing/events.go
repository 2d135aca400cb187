package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Provider webhook event types.
const (
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventPaymentCompleted      = "PAYMENT.SALE.COMPLETED"
	EventPaymentFailed         = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
)

// Event is the provider's webhook envelope. Delivery is at-least-once and
// unordered.
type Event struct {
	Type     string   `json:"event_type"`
	Resource Resource `json:"resource"`
}

// Resource is the event payload. For subscription events ID is the
// subscription id; for sale events it is the transaction id and
// BillingAgreementID carries the subscription id.
type Resource struct {
	ID                 string  `json:"id"`
	PlanID             string  `json:"plan_id"`
	CustomID           string  `json:"custom_id"`
	BillingAgreementID string  `json:"billing_agreement_id"`
	Amount             *Amount `json:"amount"`
}

// Amount tolerates both of the provider's money shapes: sale events carry
// total/currency, newer resources carry value/currency_code.
type Amount struct {
	Total        string `json:"total"`
	Value        string `json:"value"`
	Currency     string `json:"currency"`
	CurrencyCode string `json:"currency_code"`
}

func (a *Amount) amount() float64 {
	if a == nil {
		return 0
	}
	raw := a.Total
	if raw == "" {
		raw = a.Value
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func (a *Amount) currency() string {
	if a == nil {
		return "USD"
	}
	if a.Currency != "" {
		return a.Currency
	}
	if a.CurrencyCode != "" {
		return a.CurrencyCode
	}
	return "USD"
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("parse webhook event: %w", err)
	}
	return ev, nil
}

// subscriptionID resolves the stable subscription identifier for
// subscription-lifecycle events.
func (r Resource) subscriptionID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.BillingAgreementID
}

// correlation is the structured custom id, either a bare user id or
// "claim_<listingID>_<userID>" for claims settled via subscription.
type correlation struct {
	UserID    string
	ListingID string
	IsClaim   bool
}

// userIDOrNil returns the user id as a nullable value. Sale events may carry
// no correlation at all; the ledger stores NULL for those, never "".
func (c correlation) userIDOrNil() *string {
	if c.UserID == "" {
		return nil
	}
	uid := c.UserID
	return &uid
}

const claimPrefix = "claim_"

func parseCorrelation(customID string) correlation {
	if !strings.HasPrefix(customID, claimPrefix) {
		return correlation{UserID: customID}
	}
	parts := strings.Split(customID, "_")
	if len(parts) < 3 {
		return correlation{UserID: customID}
	}
	return correlation{
		ListingID: parts[1],
		UserID:    strings.Join(parts[2:], "_"),
		IsClaim:   true,
	}
}
