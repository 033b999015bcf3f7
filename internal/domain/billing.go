/**
 * @description
 * Domain models for staff platform billing.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingStatus is the approval state of a monthly staff bill.
type BillingStatus string

const (
	BillingUnpaid   BillingStatus = "unpaid"
	BillingPending  BillingStatus = "pending"
	BillingAccepted BillingStatus = "accepted"
	BillingRejected BillingStatus = "rejected"
)

// Valid reports whether s is a known billing status.
func (s BillingStatus) Valid() bool {
	switch s {
	case BillingUnpaid, BillingPending, BillingAccepted, BillingRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BillingStatus) Terminal() bool {
	return s == BillingAccepted || s == BillingRejected
}

// StaffBilling is the frozen monthly invoice for one staff member.
// Only Status changes after the row is created.
type StaffBilling struct {
	ID                   string          `json:"id"`
	StaffID              string          `json:"staff_id"`
	Period               time.Time       `json:"period"`
	ManagedResourceCount int             `json:"managed_resource_count"`
	ActivityCount        int             `json:"activity_count"`
	ResourceFee          decimal.Decimal `json:"resource_fee"`
	ActivityFee          decimal.Decimal `json:"activity_fee"`
	TotalFee             decimal.Decimal `json:"total_fee"`
	Currency             string          `json:"currency"`
	Status               BillingStatus   `json:"status"`
	DueAt                time.Time       `json:"due_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PeriodStart normalizes t to midnight on the first day of its month in loc.
func PeriodStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// BillingSummary summarizes a staff member's latest bill.
type BillingSummary struct {
	Status    string           `json:"status"`
	BillID    string           `json:"bill_id,omitempty"`
	Period    *time.Time       `json:"period,omitempty"`
	DueAt     *time.Time       `json:"due_at,omitempty"`
	TotalFee  *decimal.Decimal `json:"total_fee,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	IsOverdue bool             `json:"is_overdue"`
	CanPay    bool             `json:"can_pay"`
}
