package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"modelpass/internal/types"
)

// ProfileRepo links users to their Stripe customer. It serves both the
// checkout flow (user -> customer) and webhook reconciliation
// (customer -> user).
type ProfileRepo struct {
	db DBTX
}

// NewProfileRepo creates a ProfileRepo.
func NewProfileRepo(db DBTX) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// GetStripeCustomerID returns the linked customer, or "" when none.
func (r *ProfileRepo) GetStripeCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID *string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load profile", err)
	}
	if customerID == nil {
		return "", nil
	}
	return *customerID, nil
}

// SetStripeCustomerID links customerID to the user, creating the profile row
// if it does not exist yet.
func (r *ProfileRepo) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, stripe_customer_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		     updated_at = now()`,
		userID,
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to link stripe customer", err)
	}
	return nil
}

// LinkCustomer is SetStripeCustomerID under the reconciler's name.
func (r *ProfileRepo) LinkCustomer(ctx context.Context, userID, customerID string) error {
	return r.SetStripeCustomerID(ctx, userID, customerID)
}

// UserIDByCustomer returns the user linked to customerID, or "" when none.
func (r *ProfileRepo) UserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM profiles WHERE stripe_customer_id = $1`,
		customerID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to resolve stripe customer", err)
	}
	return userID, nil
}

// UpsertEmail records the user's email from their session so support and
// customer lookups have it.
func (r *ProfileRepo) UpsertEmail(ctx context.Context, userID, email string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO profiles (user_id, email)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     updated_at = now()
		 WHERE profiles.email IS DISTINCT FROM EXCLUDED.email`,
		userID,
		email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save profile email", err)
	}
	return nil
}
