package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Revenue report groupings.
const (
	GroupByMonth = "month"
	GroupByYear  = "year"
)

// RevenuePoint is the revenue booked in one calendar bucket.
type RevenuePoint struct {
	Label  string          `json:"label"`
	Start  time.Time       `json:"start"`
	Amount decimal.Decimal `json:"amount"`
}

// RevenueReport is a revenue series. Year is set for monthly reports.
type RevenueReport struct {
	GroupBy string          `json:"group_by"`
	Year    int             `json:"year,omitempty"`
	Points  []RevenuePoint  `json:"points"`
	Total   decimal.Decimal `json:"total"`
}
