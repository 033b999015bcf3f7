package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
)

// OrderLine is one requested menu item and quantity.
type OrderLine struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// PlaceOrder creates a pending order priced from the current menu. Repeated
// menu items are merged and lines with a non-positive quantity are ignored.
func (s *Service) PlaceOrder(ctx context.Context, payerID, restaurantID string, lines []OrderLine) (*domain.Order, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return nil, fmt.Errorf("%w: restaurant is required", ErrInvalidOrder)
	}

	var ids []string
	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || line.MenuItemID == "" {
			continue
		}
		if _, seen := quantities[line.MenuItemID]; !seen {
			ids = append(ids, line.MenuItemID)
		}
		quantities[line.MenuItemID] += line.Quantity
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}

	menu, err := s.repo.GetMenuItems(ctx, restaurantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load menu items: %w", err)
	}

	order := domain.Order{
		PayerID:      payerID,
		RestaurantID: restaurantID,
		Status:       domain.OrderPending,
		TotalAmount:  decimal.Zero,
	}
	for _, id := range ids {
		item, ok := menu[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrMenuItemNotFound, id)
		}
		if !item.Available {
			return nil, fmt.Errorf("%w: %s is not available", ErrInvalidOrder, item.Name)
		}
		line := domain.OrderItem{MenuItemID: item.ID, Name: item.Name, Quantity: quantities[id], UnitPrice: item.Price}
		order.Items = append(order.Items, line)
		order.TotalAmount = order.TotalAmount.Add(line.LineTotal())
	}
	order.PlatformCommission = s.commissionFor(order.TotalAmount)

	created, err := s.repo.InsertOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed", "order_id", created.ID, "payer_id", payerID, "restaurant_id", restaurantID, "total", created.TotalAmount.String())
	s.notify(ctx, payerID, fmt.Sprintf("Order %s placed, total %s.", shortID(created.ID), created.TotalAmount))
	s.notifyRestaurantStaff(ctx, restaurantID, fmt.Sprintf("New order %s, total %s.", shortID(created.ID), created.TotalAmount))
	return created, nil
}

func (s *Service) commissionFor(total decimal.Decimal) decimal.Decimal {
	return total.Mul(s.fees.OrderCommissionRate).Round(2)
}

// PayOrderCash records a cash payment for a pending order.
func (s *Service) PayOrderCash(ctx context.Context, payerID, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PayerID != payerID {
		return nil, ErrForbidden
	}

	method := domain.PaymentCash
	updated, err := s.transitionOrder(ctx, orderID, store.OrderTransition{
		From:   []domain.OrderStatus{domain.OrderPending},
		To:     domain.OrderPaid,
		Method: &method,
	})
	if err != nil {
		return nil, err
	}

	s.notifyRestaurantStaff(ctx, updated.RestaurantID, fmt.Sprintf("Order %s will be paid in cash and is ready to confirm.", shortID(updated.ID)))
	return updated, nil
}

// ConfirmOrder lets staff of the order's restaurant confirm a paid order.
// The platform commission is fixed at this point.
func (s *Service) ConfirmOrder(ctx context.Context, staffID, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.IsStaffOfRestaurant(ctx, staffID, order.RestaurantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	commission := s.commissionFor(order.TotalAmount)
	updated, err := s.transitionOrder(ctx, orderID, store.OrderTransition{
		From:       []domain.OrderStatus{domain.OrderPaid},
		To:         domain.OrderConfirmed,
		Commission: &commission,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order confirmed", "order_id", updated.ID, "staff_id", staffID, "commission", updated.PlatformCommission.String())
	s.notify(ctx, updated.PayerID, fmt.Sprintf("Your order %s was confirmed by the restaurant.", shortID(updated.ID)))
	return updated, nil
}

// CancelOrder lets the payer cancel an order that is not yet confirmed.
func (s *Service) CancelOrder(ctx context.Context, payerID, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PayerID != payerID {
		return nil, ErrForbidden
	}

	updated, err := s.transitionOrder(ctx, orderID, store.OrderTransition{
		From: []domain.OrderStatus{domain.OrderPending, domain.OrderPaid},
		To:   domain.OrderCanceled,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order canceled", "order_id", updated.ID, "payer_id", payerID)
	s.notify(ctx, payerID, fmt.Sprintf("Order %s was canceled.", shortID(updated.ID)))
	s.notifyRestaurantStaff(ctx, updated.RestaurantID, fmt.Sprintf("Order %s was canceled by the customer.", shortID(updated.ID)))
	return updated, nil
}

// ListOrders returns the payer's recent orders.
func (s *Service) ListOrders(ctx context.Context, payerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListOrdersByPayer(ctx, payerID, limit)
}

func (s *Service) transitionOrder(ctx context.Context, orderID string, t store.OrderTransition) (*domain.Order, error) {
	updated, err := s.repo.TransitionOrderStatus(ctx, orderID, t)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		return updated, nil
	}

	current, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, current.Status)
}
