package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
)

// RevenueQuery bounds a revenue aggregation. Zero From/To and empty
// StaffID/RestaurantID leave that side unfiltered.
type RevenueQuery struct {
	Unit         string
	From         time.Time
	To           time.Time
	TimeZone     string
	StaffID      string
	RestaurantID string
}

// RevenueBucket sums one date_trunc bucket. Start is the local calendar
// start of the bucket. Commission is zero for bill revenue.
type RevenueBucket struct {
	Start      time.Time
	Gross      decimal.Decimal
	Commission decimal.Decimal
}

// BillFeeRevenue sums total_fee of bills in status, bucketed by billing period.
func (r *Repository) BillFeeRevenue(ctx context.Context, status domain.BillingStatus, q RevenueQuery) ([]RevenueBucket, error) {
	query := `
		SELECT date_trunc($1::TEXT, period::TIMESTAMP) AS bucket,
		       SUM(total_fee),
		       0::NUMERIC
		FROM staff_billings
		WHERE status = $2
		  AND ($3::DATE IS NULL OR period >= $3::DATE)
		  AND ($4::DATE IS NULL OR period < $4::DATE)
		GROUP BY bucket
		ORDER BY bucket
	`
	rows, err := r.db.Query(ctx, query, q.Unit, string(status), optionalDate(q.From), optionalDate(q.To))
	if err != nil {
		return nil, err
	}
	return scanRevenueBuckets(rows)
}

// OrderRevenue sums total_amount and platform_commission of orders in
// status, bucketed by creation time in the query's time zone.
func (r *Repository) OrderRevenue(ctx context.Context, status domain.OrderStatus, q RevenueQuery) ([]RevenueBucket, error) {
	query := `
		SELECT date_trunc($1::TEXT, o.created_at AT TIME ZONE $2::TEXT) AS bucket,
		       SUM(o.total_amount),
		       SUM(o.platform_commission)
		FROM orders o
		WHERE o.status = $3
		  AND ($4::TIMESTAMPTZ IS NULL OR o.created_at >= $4::TIMESTAMPTZ)
		  AND ($5::TIMESTAMPTZ IS NULL OR o.created_at < $5::TIMESTAMPTZ)
		  AND ($6::UUID IS NULL OR o.restaurant_id IN (
		        SELECT restaurant_id FROM staff_restaurants WHERE staff_id = $6::UUID))
		  AND ($7::UUID IS NULL OR o.restaurant_id = $7::UUID)
		GROUP BY bucket
		ORDER BY bucket
	`
	rows, err := r.db.Query(ctx, query,
		q.Unit,
		timeZoneOrUTC(q.TimeZone),
		string(status),
		optionalTime(q.From),
		optionalTime(q.To),
		optionalString(q.StaffID),
		optionalString(q.RestaurantID),
	)
	if err != nil {
		return nil, err
	}
	return scanRevenueBuckets(rows)
}

func scanRevenueBuckets(rows pgx.Rows) ([]RevenueBucket, error) {
	defer rows.Close()

	var buckets []RevenueBucket
	for rows.Next() {
		var b RevenueBucket
		if err := rows.Scan(&b.Start, &b.Gross, &b.Commission); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func optionalDate(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	d := periodDate(t)
	return &d
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timeZoneOrUTC(tz string) string {
	if tz == "" || tz == "Local" {
		return "UTC"
	}
	return tz
}
