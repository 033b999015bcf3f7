package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dinewise/billing-service/internal/domain"
)

// GrantPremium extends a user's premium entitlement once per gateway
// transaction. A replayed txnRef returns the original grant with Applied
// set to false and leaves the user untouched.
func (r *Repository) GrantPremium(ctx context.Context, userID string, pkg domain.PremiumPackage, txnRef string, now time.Time) (*domain.PremiumGrant, error) {
	grant := &domain.PremiumGrant{UserID: userID, PackageCode: pkg.Code, TxnRef: txnRef}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var current *time.Time
		if err := tx.QueryRow(ctx, `SELECT premium_expires_at FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		base := now
		if current != nil && current.After(now) {
			base = *current
		}
		expiresAt := base.AddDate(0, 0, pkg.DurationDays)

		tag, err := tx.Exec(ctx, `
			INSERT INTO premium_grants (txn_ref, user_id, package_code, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (txn_ref) DO NOTHING
		`, txnRef, userID, pkg.Code, expiresAt)
		if err != nil {
			return fmt.Errorf("insert premium grant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tx.QueryRow(ctx, `SELECT expires_at FROM premium_grants WHERE txn_ref = $1`, txnRef).Scan(&grant.ExpiresAt)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET premium_expires_at = $2 WHERE id = $1
		`, userID, expiresAt); err != nil {
			return fmt.Errorf("extend premium: %w", err)
		}
		grant.ExpiresAt = expiresAt
		grant.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}
