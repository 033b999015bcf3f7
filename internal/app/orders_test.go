package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
	"github.com/dinewise/billing-service/pkg/vnpay"
)

func placeTestOrder(t *testing.T, svc *Service) *domain.Order {
	t.Helper()
	order, err := svc.PlaceOrder(context.Background(), customerID, restaurantID, []OrderLine{
		{MenuItemID: phoID, Quantity: 2},
		{MenuItemID: comID, Quantity: 1},
		{MenuItemID: phoID, Quantity: 1},
		{MenuItemID: comID, Quantity: 0},
	})
	if err != nil {
		t.Fatalf("expected order, got %v", err)
	}
	return order
}

func TestPlaceOrder_PricesFromMenu(t *testing.T) {
	repo := newRepoStub()
	svc, notifier := newTestService(repo, &counterStub{})

	order := placeTestOrder(t, svc)

	if order.Status != domain.OrderPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected merged lines, got %d", len(order.Items))
	}
	if order.Items[0].MenuItemID != phoID || order.Items[0].Quantity != 3 {
		t.Fatalf("expected 3 x pho first, got %+v", order.Items[0])
	}
	// 3 x 55000 + 1 x 45000
	if !order.TotalAmount.Equal(decimal.NewFromInt(210000)) {
		t.Fatalf("expected total 210000, got %s", order.TotalAmount)
	}
	if !order.PlatformCommission.Equal(decimal.NewFromInt(16800)) {
		t.Fatalf("expected commission 16800, got %s", order.PlatformCommission)
	}
	if notifier.countFor(customerID) != 1 || notifier.countFor(staffID) != 1 {
		t.Fatalf("expected payer and staff notifications, got %+v", notifier.sent)
	}
}

func TestPlaceOrder_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		lines  []OrderLine
		target error
	}{
		{name: "empty", lines: nil, target: ErrInvalidOrder},
		{name: "only zero quantities", lines: []OrderLine{{MenuItemID: phoID, Quantity: 0}}, target: ErrInvalidOrder},
		{name: "sold out", lines: []OrderLine{{MenuItemID: soldOutID, Quantity: 1}}, target: ErrInvalidOrder},
		{name: "unknown item", lines: []OrderLine{{MenuItemID: "missing", Quantity: 1}}, target: store.ErrMenuItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepoStub()
			svc, _ := newTestService(repo, &counterStub{})

			_, err := svc.PlaceOrder(context.Background(), customerID, restaurantID, tt.lines)
			expectErr(t, err, tt.target)
			if len(repo.orders) != 0 {
				t.Fatalf("expected no order to be stored, got %d", len(repo.orders))
			}
		})
	}
}

func TestOrderLifecycle_Cash(t *testing.T) {
	repo := newRepoStub()
	svc, _ := newTestService(repo, &counterStub{})
	order := placeTestOrder(t, svc)

	_, err := svc.PayOrderCash(context.Background(), otherStaff, order.ID)
	expectErr(t, err, ErrForbidden)

	paid, err := svc.PayOrderCash(context.Background(), customerID, order.ID)
	if err != nil {
		t.Fatalf("expected cash payment, got %v", err)
	}
	if paid.Status != domain.OrderPaid || paid.PaymentMethod == nil || *paid.PaymentMethod != domain.PaymentCash {
		t.Fatalf("expected paid in cash, got %+v", paid)
	}

	_, err = svc.ConfirmOrder(context.Background(), otherStaff, order.ID)
	expectErr(t, err, ErrForbidden)

	confirmed, err := svc.ConfirmOrder(context.Background(), staffID, order.ID)
	if err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
	if confirmed.Status != domain.OrderConfirmed || !confirmed.PlatformCommission.Equal(decimal.NewFromInt(16800)) {
		t.Fatalf("unexpected confirmed order %+v", confirmed)
	}

	_, err = svc.CancelOrder(context.Background(), customerID, order.ID)
	expectErr(t, err, ErrInvalidTransition)
	_, err = svc.PayOrderCash(context.Background(), customerID, order.ID)
	expectErr(t, err, ErrInvalidTransition)
}

func TestConfirmOrder_RequiresPaid(t *testing.T) {
	repo := newRepoStub()
	svc, _ := newTestService(repo, &counterStub{})
	order := placeTestOrder(t, svc)

	_, err := svc.ConfirmOrder(context.Background(), staffID, order.ID)
	expectErr(t, err, ErrInvalidTransition)
}

func TestOrderLifecycle_OnlinePaymentThenCancel(t *testing.T) {
	repo := newRepoStub()
	svc, _ := newTestService(repo, &counterStub{})
	order := placeTestOrder(t, svc)

	session, err := svc.StartOrderPayment(context.Background(), customerID, order.ID, "")
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	callback := gatewayCallback(t, session, vnpay.CodeSuccess, nil)

	result, err := svc.Reconcile(context.Background(), callback)
	if err != nil || result.Outcome != OutcomeApplied || result.Kind != domain.KindOrder {
		t.Fatalf("expected order payment to apply, got %+v, %v", result, err)
	}
	stored, _ := repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderPaid || stored.PaymentMethod == nil || *stored.PaymentMethod != domain.PaymentVNPay {
		t.Fatalf("expected paid online, got %+v", stored)
	}

	_, err = svc.StartOrderPayment(context.Background(), customerID, order.ID, "")
	expectErr(t, err, ErrInvalidTransition)

	canceled, err := svc.CancelOrder(context.Background(), customerID, order.ID)
	if err != nil || canceled.Status != domain.OrderCanceled {
		t.Fatalf("expected paid order to cancel, got %+v, %v", canceled, err)
	}

	replay, err := svc.Reconcile(context.Background(), callback)
	if err != nil || replay.Outcome != OutcomeAlreadySettled {
		t.Fatalf("expected replay on canceled order to be settled, got %+v, %v", replay, err)
	}
	stored, _ = repo.GetOrderByID(context.Background(), order.ID)
	if stored.Status != domain.OrderCanceled {
		t.Fatalf("expected order to stay canceled, got %s", stored.Status)
	}
}
