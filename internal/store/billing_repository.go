package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dinewise/billing-service/internal/domain"
)

const billingConstraint = "staff_billings_staff_period_key"

const billingColumns = `
	id, staff_id, period, managed_resource_count, activity_count,
	resource_fee, activity_fee, total_fee, currency, status, due_at,
	created_at, updated_at`

func scanBilling(row rowScanner) (*domain.StaffBilling, error) {
	var bill domain.StaffBilling
	var status string
	if err := row.Scan(
		&bill.ID,
		&bill.StaffID,
		&bill.Period,
		&bill.ManagedResourceCount,
		&bill.ActivityCount,
		&bill.ResourceFee,
		&bill.ActivityFee,
		&bill.TotalFee,
		&bill.Currency,
		&status,
		&bill.DueAt,
		&bill.CreatedAt,
		&bill.UpdatedAt,
	); err != nil {
		return nil, err
	}
	bill.Status = domain.BillingStatus(status)
	bill.Period = time.Date(bill.Period.Year(), bill.Period.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &bill, nil
}

func scanBillings(rows pgx.Rows) ([]domain.StaffBilling, error) {
	defer rows.Close()

	var bills []domain.StaffBilling
	for rows.Next() {
		bill, err := scanBilling(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	return bills, rows.Err()
}

func periodDate(period time.Time) string {
	return period.Format("2006-01-02")
}

// GetBillingByStaffPeriod returns the bill for (staffID, period).
func (r *Repository) GetBillingByStaffPeriod(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error) {
	query := `SELECT ` + billingColumns + ` FROM staff_billings WHERE staff_id = $1 AND period = $2::DATE`
	bill, err := scanBilling(r.db.QueryRow(ctx, query, staffID, periodDate(period)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillingNotFound
	}
	return bill, err
}

// InsertBilling persists a new bill. A bill already present for the same
// staff and period yields ErrBillingExists.
func (r *Repository) InsertBilling(ctx context.Context, bill domain.StaffBilling) (*domain.StaffBilling, error) {
	query := `
		INSERT INTO staff_billings (
			staff_id, period, managed_resource_count, activity_count,
			resource_fee, activity_fee, total_fee, currency, status, due_at
		)
		VALUES ($1, $2::DATE, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)
		RETURNING ` + billingColumns
	created, err := scanBilling(r.db.QueryRow(ctx, query,
		bill.StaffID,
		periodDate(bill.Period),
		bill.ManagedResourceCount,
		bill.ActivityCount,
		bill.ResourceFee.String(),
		bill.ActivityFee.String(),
		bill.TotalFee.String(),
		bill.Currency,
		string(domain.BillingUnpaid),
		bill.DueAt,
	))
	if err != nil {
		if isUniqueViolation(err, billingConstraint) {
			return nil, ErrBillingExists
		}
		return nil, err
	}
	return created, nil
}

// GetBillingByID retrieves a specific bill.
func (r *Repository) GetBillingByID(ctx context.Context, billID string) (*domain.StaffBilling, error) {
	query := `SELECT ` + billingColumns + ` FROM staff_billings WHERE id = $1`
	bill, err := scanBilling(r.db.QueryRow(ctx, query, billID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillingNotFound
	}
	return bill, err
}

// GetLatestBillingByStaff retrieves the staff member's most recent bill.
func (r *Repository) GetLatestBillingByStaff(ctx context.Context, staffID string) (*domain.StaffBilling, error) {
	query := `SELECT ` + billingColumns + ` FROM staff_billings WHERE staff_id = $1 ORDER BY period DESC LIMIT 1`
	bill, err := scanBilling(r.db.QueryRow(ctx, query, staffID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillingNotFound
	}
	return bill, err
}

// ListBillingsByStaff retrieves recent bills for a staff member.
func (r *Repository) ListBillingsByStaff(ctx context.Context, staffID string, limit int) ([]domain.StaffBilling, error) {
	query := `SELECT ` + billingColumns + ` FROM staff_billings WHERE staff_id = $1 ORDER BY period DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, staffID, limit)
	if err != nil {
		return nil, err
	}
	return scanBillings(rows)
}

// ListBillings retrieves bills across staff, optionally filtered by status.
func (r *Repository) ListBillings(ctx context.Context, status *domain.BillingStatus, limit int) ([]domain.StaffBilling, error) {
	query := `
		SELECT ` + billingColumns + `
		FROM staff_billings
		WHERE ($1::TEXT IS NULL OR status = $1::TEXT)
		ORDER BY period DESC, created_at DESC
		LIMIT $2
	`
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	rows, err := r.db.Query(ctx, query, filter, limit)
	if err != nil {
		return nil, err
	}
	return scanBillings(rows)
}

// TransitionBillingStatus moves a bill from one status to another. It
// returns nil without error when the bill is not currently in from.
func (r *Repository) TransitionBillingStatus(ctx context.Context, billID string, from, to domain.BillingStatus) (*domain.StaffBilling, error) {
	query := `
		UPDATE staff_billings
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
		RETURNING ` + billingColumns
	bill, err := scanBilling(r.db.QueryRow(ctx, query, billID, string(from), string(to)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return bill, nil
}
