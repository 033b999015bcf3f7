package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
)

const orderColumns = `
	id, payer_id, restaurant_id, total_amount, platform_commission,
	status, payment_method, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var status string
	var method *string
	if err := row.Scan(
		&order.ID,
		&order.PayerID,
		&order.RestaurantID,
		&order.TotalAmount,
		&order.PlatformCommission,
		&status,
		&method,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	if method != nil {
		m := domain.PaymentMethod(*method)
		order.PaymentMethod = &m
	}
	return &order, nil
}

// GetMenuItems loads the requested menu items of one restaurant.
func (r *Repository) GetMenuItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, restaurant_id, name, price, is_available
		FROM menu_items
		WHERE restaurant_id = $1
		  AND id::TEXT = ANY($2::TEXT[])
	`, restaurantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string]domain.MenuItem, len(ids))
	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.RestaurantID, &item.Name, &item.Price, &item.Available); err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

// InsertOrder persists an order and its lines in one transaction.
func (r *Repository) InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	var created *domain.Order
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		created, err = scanOrder(tx.QueryRow(ctx, `
			INSERT INTO orders (payer_id, restaurant_id, total_amount, platform_commission, status, payment_method)
			VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
			RETURNING `+orderColumns,
			order.PayerID,
			order.RestaurantID,
			order.TotalAmount.String(),
			order.PlatformCommission.String(),
			string(order.Status),
			paymentMethodArg(order.PaymentMethod),
		))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			var line domain.OrderItem
			if err := tx.QueryRow(ctx, `
				INSERT INTO order_items (order_id, position, menu_item_id, name, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6::NUMERIC)
				RETURNING id, order_id, menu_item_id, name, quantity, unit_price
			`, created.ID, i, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice.String()).Scan(
				&line.ID, &line.OrderID, &line.MenuItemID, &line.Name, &line.Quantity, &line.UnitPrice,
			); err != nil {
				return fmt.Errorf("insert order item %d: %w", i, err)
			}
			created.Items = append(created.Items, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetOrderByID retrieves an order with its lines in placement order.
func (r *Repository) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderItem
		if err := rows.Scan(&line.ID, &line.OrderID, &line.MenuItemID, &line.Name, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, line)
	}
	return order, rows.Err()
}

// ListOrdersByPayer retrieves a payer's recent orders without their lines.
func (r *Repository) ListOrdersByPayer(ctx context.Context, payerID string, limit int) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, payerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// OrderTransition describes a conditional order status change.
type OrderTransition struct {
	From       []domain.OrderStatus
	To         domain.OrderStatus
	Method     *domain.PaymentMethod
	Commission *decimal.Decimal
}

// TransitionOrderStatus applies t when the order is in one of t.From. It
// returns nil without error when the order is in any other state.
func (r *Repository) TransitionOrderStatus(ctx context.Context, orderID string, t OrderTransition) (*domain.Order, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}
	var commission *string
	if t.Commission != nil {
		c := t.Commission.String()
		commission = &c
	}

	order, err := scanOrder(r.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $3,
		    payment_method = COALESCE($4, payment_method),
		    platform_commission = COALESCE($5::NUMERIC, platform_commission),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($2::TEXT[])
		RETURNING `+orderColumns,
		orderID, from, string(t.To), paymentMethodArg(t.Method), commission,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func paymentMethodArg(m *domain.PaymentMethod) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}
