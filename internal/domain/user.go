package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles carried in auth tokens and the users table.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// User is the marketplace account as seen by the billing service.
type User struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
}

// IsPremium reports whether the user's premium entitlement is active at now.
func (u User) IsPremium(now time.Time) bool {
	return u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(now)
}

// PremiumPackage is a purchasable time-boxed premium entitlement.
type PremiumPackage struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
}

// PremiumGrant records one applied premium purchase.
type PremiumGrant struct {
	UserID      string    `json:"user_id"`
	PackageCode string    `json:"package_code"`
	TxnRef      string    `json:"txn_ref"`
	ExpiresAt   time.Time `json:"expires_at"`
	Applied     bool      `json:"applied"`
}

// PremiumStatus is a user's current premium entitlement.
type PremiumStatus struct {
	Active    bool           `json:"active"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Package   PremiumPackage `json:"package"`
}
