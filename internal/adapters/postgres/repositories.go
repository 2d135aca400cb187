package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JAvZZe/tstr-site/internal/domain"
	"github.com/JAvZZe/tstr-site/internal/ports"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ListingRepository

func (db *DB) Get(ctx context.Context, id string) (domain.Listing, error) {
	var l domain.Listing
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(website, ''), COALESCE(contact_email, ''), claimed, claimed_at, status
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.Name, &l.Website, &l.ContactEmail, &l.Claimed, &l.ClaimedAt, &l.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, ports.ErrNotFound
	}
	return l, err
}

// MarkClaimed flips the claimed flag exactly once. The WHERE clause carries
// the false -> true condition so a concurrent flip loses cleanly.
func (db *DB) MarkClaimed(ctx context.Context, id string, now time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE listings SET claimed = true, claimed_at = $2
		WHERE id = $1 AND claimed = false
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrListingClaimed
	}
	return nil
}

// ClaimRepository

func (db *DB) CreateVerified(ctx context.Context, c domain.Claim) (id string, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO claims (user_id, listing_id, provider_name, contact_name, business_email, phone, website,
			status, verification_method, created_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'verified', $8, $9, $10)
		RETURNING id
	`, c.UserID, c.ListingID, c.ProviderName, c.ContactName, c.BusinessEmail, c.Phone, c.Website,
		c.Method, c.CreatedAt, c.VerifiedAt).Scan(&id)
	if isUniqueViolation(err) {
		return "", ports.ErrDuplicateClaim
	}
	if err != nil {
		return "", err
	}

	if c.ListingID != nil {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, `
			UPDATE listings SET claimed = true, claimed_at = $2
			WHERE id = $1 AND claimed = false
		`, *c.ListingID, c.CreatedAt)
		if err != nil {
			return "", err
		}
		if tag.RowsAffected() == 0 {
			err = ports.ErrListingClaimed
			return "", err
		}
	}
	return id, nil
}

func (db *DB) CreatePending(ctx context.Context, c domain.Claim) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO claims (user_id, listing_id, provider_name, contact_name, business_email, phone, website,
			status, verification_method, verification_token, token_expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, $10, $11)
		RETURNING id
	`, c.UserID, c.ListingID, c.ProviderName, c.ContactName, c.BusinessEmail, c.Phone, c.Website,
		c.Method, c.Token, c.TokenExpiresAt, c.CreatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return "", ports.ErrDuplicateClaim
	}
	return id, err
}

func (db *DB) ActiveForUserListing(ctx context.Context, userID, listingID string) (domain.Claim, bool, error) {
	var c domain.Claim
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, listing_id, status, verification_method, created_at, verified_at
		FROM claims
		WHERE user_id = $1 AND listing_id = $2 AND status <> 'rejected'
	`, userID, listingID).Scan(&c.ID, &c.UserID, &c.ListingID, &c.Status, &c.Method, &c.CreatedAt, &c.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, false, nil
	}
	if err != nil {
		return domain.Claim{}, false, err
	}
	return c, true, nil
}

func (db *DB) FindPendingByToken(ctx context.Context, token string) (domain.Claim, error) {
	var c domain.Claim
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, listing_id, provider_name, business_email, status, verification_token, token_expires_at, created_at
		FROM claims
		WHERE verification_token = $1 AND status = 'pending'
	`, token).Scan(&c.ID, &c.UserID, &c.ListingID, &c.ProviderName, &c.BusinessEmail, &c.Status, &c.Token, &c.TokenExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, ports.ErrNotFound
	}
	return c, err
}

// ConsumeToken clears the token atomically with the status transition. The
// update is conditioned on the token still being present and the claim still
// pending, so concurrent redemptions cannot both succeed.
func (db *DB) ConsumeToken(ctx context.Context, claimID, token string, now time.Time) (consumed bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var listingID *string
	err = tx.QueryRow(ctx, `
		UPDATE claims
		SET status = 'verified', verified_at = $3, verification_token = NULL, token_expires_at = NULL
		WHERE id = $1 AND verification_token = $2 AND status = 'pending' AND token_expires_at > $3
		RETURNING listing_id
	`, claimID, token, now).Scan(&listingID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if listingID != nil {
		if _, err = tx.Exec(ctx, `
			UPDATE listings SET claimed = true, claimed_at = $2
			WHERE id = $1 AND claimed = false
		`, *listingID, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (db *DB) VerifyForListing(ctx context.Context, listingID, userID string, now time.Time) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	// Conditional on status so redelivered events change nothing.
	if _, err = tx.Exec(ctx, `
		UPDATE claims
		SET status = 'verified', verified_at = $3, verification_token = NULL, token_expires_at = NULL
		WHERE listing_id = $1 AND user_id = $2 AND status = 'pending'
	`, listingID, userID, now); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE listings SET claimed = true, claimed_at = $2
		WHERE id = $1 AND claimed = false
	`, listingID, now); err != nil {
		return err
	}
	return nil
}

func (db *DB) Reject(ctx context.Context, claimID string, now time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE claims SET status = 'rejected' WHERE id = $1 AND status <> 'rejected'
	`, claimID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// DraftRepository

func (db *DB) Save(ctx context.Context, d domain.Draft) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO claim_drafts (resume_token, payload, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, d.ResumeToken, d.Payload, d.ExpiresAt, d.CreatedAt).Scan(&id)
	return id, err
}

func (db *DB) FindByResumeToken(ctx context.Context, token string) (domain.Draft, error) {
	var d domain.Draft
	err := db.Pool.QueryRow(ctx, `
		SELECT id, resume_token, payload, expires_at, created_at
		FROM claim_drafts WHERE resume_token = $1
	`, token).Scan(&d.ID, &d.ResumeToken, &d.Payload, &d.ExpiresAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Draft{}, ports.ErrNotFound
	}
	return d, err
}

// ClickRepository

func (db *DB) Append(ctx context.Context, c domain.Click) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO clicks (listing_id, url, user_agent, referrer, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ListingID, c.URL, c.UserAgent, c.Referrer, c.CreatedAt)
	return err
}
