/**
 * @description
 * Domain models for food orders.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a food order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCanceled  OrderStatus = "canceled"
)

// PaymentMethod is how the payer settles an order.
type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentVNPay PaymentMethod = "vnpay"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentVNPay
}

// Order is a food order placed by a customer at one restaurant.
type Order struct {
	ID                 string          `json:"id"`
	PayerID            string          `json:"payer_id"`
	RestaurantID       string          `json:"restaurant_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	Status             OrderStatus     `json:"status"`
	PaymentMethod      *PaymentMethod  `json:"payment_method,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Items              []OrderItem     `json:"items"`
}

// OrderItem is one order line. UnitPrice is the menu price captured when
// the order was placed.
type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity times unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MenuItem is the subset of a restaurant menu item needed for pricing.
type MenuItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Available    bool            `json:"available"`
}
