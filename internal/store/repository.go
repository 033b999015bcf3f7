/**
 * @description
 * Data access layer for the billing service.
 */
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dinewise/billing-service/internal/domain"
)

var (
	ErrBillingNotFound  = errors.New("billing not found")
	ErrBillingExists    = errors.New("billing already exists for period")
	ErrOrderNotFound    = errors.New("order not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrMenuItemNotFound = errors.New("menu item not found")
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schemaSQL string

// Repository handles database operations for billing, orders and premium grants.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the tables owned by this service when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, COALESCE(full_name, ''), role, premium_expires_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.Role, &user.PremiumExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID loads a user by internal id.
func (r *Repository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID))
}

// FindUserByUsername loads a user by the username carried in payment references.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

// ListUserIDsByRole returns the ids of all users holding role.
func (r *Repository) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return r.queryIDs(ctx, "SELECT id FROM users WHERE role = $1 ORDER BY id", role)
}

// ListStaffIDsForRestaurant returns the staff managing a restaurant.
func (r *Repository) ListStaffIDsForRestaurant(ctx context.Context, restaurantID string) ([]string, error) {
	return r.queryIDs(ctx, "SELECT staff_id FROM staff_restaurants WHERE restaurant_id = $1 ORDER BY staff_id", restaurantID)
}

// IsStaffOfRestaurant reports whether staffID manages restaurantID.
func (r *Repository) IsStaffOfRestaurant(ctx context.Context, staffID, restaurantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff_restaurants WHERE staff_id = $1 AND restaurant_id = $2
		)`, staffID, restaurantID).Scan(&exists)
	return exists, err
}

// ResourceCountFor counts the restaurants currently managed by staffID.
func (r *Repository) ResourceCountFor(ctx context.Context, staffID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM staff_restaurants WHERE staff_id = $1", staffID).Scan(&count)
	return count, err
}

// ActivityCountFor counts confirmed reservations at the staff's
// restaurants with a reservation date in [start, end).
func (r *Repository) ActivityCountFor(ctx context.Context, staffID string, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM reservations res
		JOIN staff_restaurants sr ON sr.restaurant_id = res.restaurant_id
		WHERE sr.staff_id = $1
		  AND res.status = 'confirmed'
		  AND res.reservation_date >= $2
		  AND res.reservation_date < $3
	`, staffID, start, end).Scan(&count)
	return count, err
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
