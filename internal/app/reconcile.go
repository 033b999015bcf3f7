package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
	"github.com/dinewise/billing-service/pkg/vnpay"
)

// ReconcileOutcome describes what a callback did to local state.
type ReconcileOutcome string

const (
	OutcomeApplied        ReconcileOutcome = "applied"
	OutcomeAlreadySettled ReconcileOutcome = "already_settled"
	OutcomeRejected       ReconcileOutcome = "rejected"
)

// ReconciliationResult is the outcome of applying one gateway callback.
type ReconciliationResult struct {
	Success      bool                 `json:"success"`
	ResponseCode string               `json:"response_code,omitempty"`
	Kind         domain.ReferenceKind `json:"kind,omitempty"`
	ObjectID     string               `json:"object_id,omitempty"`
	Outcome      ReconcileOutcome     `json:"outcome"`
}

// Reconcile verifies a gateway callback and applies the payment it reports.
// A non-nil error always comes with Success false and no mutation. A replay
// of an already applied callback succeeds with OutcomeAlreadySettled.
func (s *Service) Reconcile(ctx context.Context, params map[string]string) (*ReconciliationResult, error) {
	rejected := &ReconciliationResult{Outcome: OutcomeRejected}

	verification := vnpay.Verify(params, s.gateway.HashSecret)
	if !verification.Valid {
		s.logger.Warn("rejected gateway callback", "reason", verification.Reason, "order_info", params[vnpay.ParamOrderInfo])
		return rejected, fmt.Errorf("%w: %s", ErrSignatureInvalid, verification.Reason)
	}
	if params[vnpay.ParamTmnCode] != s.gateway.TmnCode {
		s.logger.Warn("rejected gateway callback for another merchant", "tmn_code", params[vnpay.ParamTmnCode])
		return rejected, fmt.Errorf("%w: merchant code mismatch", ErrSignatureInvalid)
	}

	rejected.ResponseCode = params[vnpay.ParamResponseCode]
	ref, refErr := domain.ParseReference(params[vnpay.ParamOrderInfo])
	if refErr == nil {
		rejected.Kind = ref.Kind
		rejected.ObjectID = ref.ObjectID
	}

	if !vnpay.Succeeded(params) {
		s.logger.Info("gateway declined payment",
			"response_code", params[vnpay.ParamResponseCode],
			"transaction_status", params[vnpay.ParamTransactionStatus],
			"txn_ref", params[vnpay.ParamTxnRef],
			"order_info", params[vnpay.ParamOrderInfo],
		)
		return rejected, fmt.Errorf("%w: response code %s", ErrGatewayDeclined, params[vnpay.ParamResponseCode])
	}

	if refErr != nil {
		s.logger.Warn("gateway callback carries an unusable reference", "order_info", params[vnpay.ParamOrderInfo], "error", refErr)
		return rejected, fmt.Errorf("%w: %w", ErrUnknownReference, refErr)
	}

	paid, err := vnpay.FromMinorUnits(params[vnpay.ParamAmount])
	if err != nil {
		return rejected, fmt.Errorf("%w: %w", ErrAmountMismatch, err)
	}

	actor, err := s.repo.FindUserByUsername(ctx, ref.Actor)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.logger.Warn("gateway callback references an unknown user", "reference", ref.String())
			return rejected, fmt.Errorf("%w: user %q", ErrUnknownReference, ref.Actor)
		}
		return rejected, err
	}

	var outcome ReconcileOutcome
	switch ref.Kind {
	case domain.KindStaffBilling:
		outcome, err = s.settleBill(ctx, actor, ref, paid)
	case domain.KindOrder:
		outcome, err = s.settleOrder(ctx, actor, ref, paid)
	case domain.KindPremiumPurchase:
		outcome, err = s.settlePremium(ctx, actor, ref, paid, params[vnpay.ParamTxnRef])
	default:
		err = fmt.Errorf("%w: kind %q", ErrUnknownReference, ref.Kind)
	}
	if err != nil {
		if errors.Is(err, ErrUnknownReference) || errors.Is(err, ErrAmountMismatch) {
			s.logger.Warn("gateway callback not applied", "reference", ref.String(), "txn_ref", params[vnpay.ParamTxnRef], "error", err)
		}
		return rejected, err
	}

	return &ReconciliationResult{
		Success:      true,
		ResponseCode: params[vnpay.ParamResponseCode],
		Kind:         ref.Kind,
		ObjectID:     ref.ObjectID,
		Outcome:      outcome,
	}, nil
}

func (s *Service) settleBill(ctx context.Context, actor *domain.User, ref domain.Reference, paid decimal.Decimal) (ReconcileOutcome, error) {
	bill, err := s.repo.GetBillingByID(ctx, ref.ObjectID)
	if err != nil {
		if errors.Is(err, store.ErrBillingNotFound) {
			return "", fmt.Errorf("%w: bill %s", ErrUnknownReference, ref.ObjectID)
		}
		return "", err
	}
	if bill.StaffID != actor.ID {
		return "", fmt.Errorf("%w: bill %s does not belong to %s", ErrUnknownReference, bill.ID, actor.Username)
	}
	if !bill.TotalFee.Equal(paid) {
		return "", fmt.Errorf("%w: paid %s, bill total %s", ErrAmountMismatch, paid, bill.TotalFee)
	}

	updated, err := s.repo.TransitionBillingStatus(ctx, bill.ID, domain.BillingUnpaid, domain.BillingPending)
	if err != nil {
		return "", fmt.Errorf("mark bill pending: %w", err)
	}
	if updated == nil {
		status := statusChangedConcurrently
		if current, err := s.repo.GetBillingByID(ctx, bill.ID); err == nil {
			status = string(current.Status)
		}
		s.logAlreadySettled(ref, status)
		return OutcomeAlreadySettled, nil
	}

	s.logger.Info("staff bill paid, awaiting review", "bill_id", updated.ID, "staff_id", updated.StaffID)
	period := updated.Period.Format("2006-01")
	s.notify(ctx, updated.StaffID, fmt.Sprintf("We received your payment for the %s platform bill. It is awaiting review.", period))
	s.notifyAdmins(ctx, fmt.Sprintf("%s paid the %s platform bill (%s %s). Please review it.", actor.Username, period, updated.TotalFee, updated.Currency))
	return OutcomeApplied, nil
}

func (s *Service) settleOrder(ctx context.Context, actor *domain.User, ref domain.Reference, paid decimal.Decimal) (ReconcileOutcome, error) {
	order, err := s.repo.GetOrderByID(ctx, ref.ObjectID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return "", fmt.Errorf("%w: order %s", ErrUnknownReference, ref.ObjectID)
		}
		return "", err
	}
	if order.PayerID != actor.ID {
		return "", fmt.Errorf("%w: order %s does not belong to %s", ErrUnknownReference, order.ID, actor.Username)
	}
	if !order.TotalAmount.Equal(paid) {
		return "", fmt.Errorf("%w: paid %s, order total %s", ErrAmountMismatch, paid, order.TotalAmount)
	}

	method := domain.PaymentVNPay
	updated, err := s.repo.TransitionOrderStatus(ctx, order.ID, store.OrderTransition{
		From:   []domain.OrderStatus{domain.OrderPending},
		To:     domain.OrderPaid,
		Method: &method,
	})
	if err != nil {
		return "", fmt.Errorf("mark order paid: %w", err)
	}
	if updated == nil {
		status := statusChangedConcurrently
		if current, err := s.repo.GetOrderByID(ctx, order.ID); err == nil {
			status = string(current.Status)
		}
		s.logAlreadySettled(ref, status)
		return OutcomeAlreadySettled, nil
	}

	s.logger.Info("order paid online", "order_id", updated.ID, "payer_id", updated.PayerID)
	s.notify(ctx, updated.PayerID, fmt.Sprintf("Payment received for order %s.", shortID(updated.ID)))
	s.notifyRestaurantStaff(ctx, updated.RestaurantID, fmt.Sprintf("Order %s was paid online and is ready to confirm.", shortID(updated.ID)))
	return OutcomeApplied, nil
}

func (s *Service) settlePremium(ctx context.Context, actor *domain.User, ref domain.Reference, paid decimal.Decimal, txnRef string) (ReconcileOutcome, error) {
	pkg := s.PremiumPackage()
	if ref.ObjectID != pkg.Code {
		return "", fmt.Errorf("%w: package %q", ErrUnknownReference, ref.ObjectID)
	}
	if !pkg.Price.Equal(paid) {
		return "", fmt.Errorf("%w: paid %s, package price %s", ErrAmountMismatch, paid, pkg.Price)
	}
	if txnRef == "" {
		return "", fmt.Errorf("%w: missing %s", vnpay.ErrProtocol, vnpay.ParamTxnRef)
	}

	grant, err := s.repo.GrantPremium(ctx, actor.ID, pkg, txnRef, s.now())
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", fmt.Errorf("%w: user %s", ErrUnknownReference, actor.ID)
		}
		return "", fmt.Errorf("grant premium: %w", err)
	}
	if !grant.Applied {
		s.logAlreadySettled(ref, "granted")
		return OutcomeAlreadySettled, nil
	}

	s.logger.Info("premium activated", "user_id", actor.ID, "package", pkg.Code, "expires_at", grant.ExpiresAt)
	s.notify(ctx, actor.ID, fmt.Sprintf("Premium is active until %s.", grant.ExpiresAt.In(s.loc).Format("2006-01-02")))
	return OutcomeApplied, nil
}

// statusChangedConcurrently is logged when the record moved on but could not be re-read.
const statusChangedConcurrently = "changed concurrently"

// logAlreadySettled records a callback that found its record past the
// pre-payment state. status is read after the conditional update lost. Paying for a rejected bill or a canceled order needs
// manual follow-up, so those are logged at warn.
func (s *Service) logAlreadySettled(ref domain.Reference, status string) {
	level := slog.LevelInfo
	if status == string(domain.BillingRejected) || status == string(domain.OrderCanceled) {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "replayed gateway callback ignored",
		"reference", ref.String(),
		"status", status,
		"error", ErrAlreadySettled,
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
