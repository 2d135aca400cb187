package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

// SubscriptionRepository

func (db *DB) GetByUser(ctx context.Context, userID string) (domain.Subscription, error) {
	var s domain.Subscription
	err := db.Pool.QueryRow(ctx, `
		SELECT id, subscription_tier, subscription_status, paypal_subscription_id,
			subscription_start_date, subscription_end_date, last_payment_date, COALESCE(payment_method, '')
		FROM user_profiles WHERE id = $1
	`, userID).Scan(&s.UserID, &s.Tier, &s.Status, &s.ProviderSubscriptionID,
		&s.StartDate, &s.EndDate, &s.LastPaymentAt, &s.PaymentMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, ports.ErrNotFound
	}
	return s, err
}

// Activate is an upsert keyed by user id; redelivered activation events write
// the same values again.
func (db *DB) Activate(ctx context.Context, userID string, tier domain.Tier, subscriptionID, paymentMethod string, now time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO user_profiles (id, subscription_tier, subscription_status, paypal_subscription_id,
			subscription_start_date, payment_method)
		VALUES ($1, $2, 'active', $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			subscription_tier = EXCLUDED.subscription_tier,
			subscription_status = 'active',
			paypal_subscription_id = EXCLUDED.paypal_subscription_id,
			subscription_start_date = COALESCE(user_profiles.subscription_start_date, EXCLUDED.subscription_start_date),
			subscription_end_date = NULL,
			payment_method = EXCLUDED.payment_method
	`, userID, tier, subscriptionID, now, paymentMethod)
	return err
}

func (db *DB) RecordLastPayment(ctx context.Context, userID string, now time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE user_profiles SET last_payment_date = $2 WHERE id = $1
	`, userID, now)
	return err
}

// CancelBySubscription is conditioned on the status so a redelivered event
// leaves the original end date in place.
func (db *DB) CancelBySubscription(ctx context.Context, subscriptionID string, now time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE user_profiles
		SET subscription_status = 'cancelled', subscription_end_date = $2
		WHERE paypal_subscription_id = $1 AND subscription_status <> 'cancelled'
	`, subscriptionID, now)
	return err
}

func (db *DB) SuspendBySubscription(ctx context.Context, subscriptionID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE user_profiles SET subscription_status = 'past_due'
		WHERE paypal_subscription_id = $1
	`, subscriptionID)
	return err
}

// PaymentRepository

// Record appends a ledger entry. The unique index on the provider
// transaction id makes duplicate deliveries a skipped insert.
func (db *DB) Record(ctx context.Context, p domain.Payment) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO payment_history (user_id, amount, currency, paypal_transaction_id, paypal_subscription_id,
			tier, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (paypal_transaction_id) DO NOTHING
	`, p.UserID, p.Amount, p.Currency, p.TransactionID, p.SubscriptionID,
		p.Tier, p.Status, p.Description, p.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
