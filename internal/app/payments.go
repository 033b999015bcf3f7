package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/pkg/vnpay"
)

const (
	orderTypeBill    = "billpayment"
	orderTypePremium = "premium"
	defaultClientIP  = "127.0.0.1"
)

// PaymentSession is a signed redirect to the gateway's hosted payment page.
type PaymentSession struct {
	PaymentURL string    `json:"payment_url"`
	TxnRef     string    `json:"txn_ref"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CreateSession builds the signed gateway URL for paying objectID of kind on
// behalf of actor. It does not touch local state.
func (s *Service) CreateSession(actor string, kind domain.ReferenceKind, objectID string, amount decimal.Decimal, clientIP, returnURL string) (*PaymentSession, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	minor, err := vnpay.ToMinorUnits(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	ref, err := domain.NewReference(actor, kind, objectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vnpay.ErrProtocol, err)
	}

	if strings.TrimSpace(clientIP) == "" {
		clientIP = defaultClientIP
	}
	if strings.TrimSpace(returnURL) == "" {
		returnURL = s.gateway.ReturnURL
	}
	orderType := orderTypeBill
	if kind == domain.KindPremiumPurchase {
		orderType = orderTypePremium
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.gateway.SessionTTLMin) * time.Minute)
	txnRef := s.nextTxnRef(now)

	params := map[string]string{
		vnpay.ParamVersion:    s.gateway.Version,
		vnpay.ParamCommand:    vnpay.CommandPay,
		vnpay.ParamTmnCode:    s.gateway.TmnCode,
		vnpay.ParamAmount:     minor,
		vnpay.ParamCreateDate: vnpay.FormatDate(now, s.loc),
		vnpay.ParamExpireDate: vnpay.FormatDate(expiresAt, s.loc),
		vnpay.ParamCurrCode:   s.gateway.Currency,
		vnpay.ParamIPAddr:     clientIP,
		vnpay.ParamLocale:     s.gateway.Locale,
		vnpay.ParamOrderInfo:  ref.String(),
		vnpay.ParamOrderType:  orderType,
		vnpay.ParamReturnURL:  returnURL,
		vnpay.ParamTxnRef:     txnRef,
	}

	paymentURL, err := vnpay.BuildRequestURL(s.gateway.PaymentURL, params, s.gateway.HashSecret)
	if err != nil {
		return nil, err
	}
	return &PaymentSession{PaymentURL: paymentURL, TxnRef: txnRef, ExpiresAt: expiresAt}, nil
}

// StartBillingPayment creates a payment session for an unpaid bill owned by staffID.
func (s *Service) StartBillingPayment(ctx context.Context, staffID, billID, clientIP string) (*PaymentSession, error) {
	bill, err := s.repo.GetBillingByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.StaffID != staffID {
		return nil, ErrForbidden
	}
	if bill.Status != domain.BillingUnpaid {
		return nil, fmt.Errorf("%w: bill is already %s", ErrInvalidTransition, bill.Status)
	}

	staff, err := s.repo.FindUserByID(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, domain.KindStaffBilling, staffID); err != nil {
		return nil, err
	}

	session, err := s.CreateSession(staff.Username, domain.KindStaffBilling, bill.ID, bill.TotalFee, clientIP, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("created bill payment session", "bill_id", bill.ID, "staff_id", staffID, "txn_ref", session.TxnRef)
	return session, nil
}

// StartOrderPayment creates a payment session for a pending order placed by payerID.
func (s *Service) StartOrderPayment(ctx context.Context, payerID, orderID, clientIP string) (*PaymentSession, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PayerID != payerID {
		return nil, ErrForbidden
	}
	if order.Status != domain.OrderPending {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidTransition, order.Status)
	}

	payer, err := s.repo.FindUserByID(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, domain.KindOrder, payerID); err != nil {
		return nil, err
	}

	session, err := s.CreateSession(payer.Username, domain.KindOrder, order.ID, order.TotalAmount, clientIP, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("created order payment session", "order_id", order.ID, "payer_id", payerID, "txn_ref", session.TxnRef)
	return session, nil
}

// StartPremiumPurchase creates a payment session for the premium package.
// An empty packageCode selects the default package.
func (s *Service) StartPremiumPurchase(ctx context.Context, userID, packageCode, clientIP string) (*PaymentSession, error) {
	pkg := s.PremiumPackage()
	if packageCode != "" && packageCode != pkg.Code {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, packageCode)
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, domain.KindPremiumPurchase, userID); err != nil {
		return nil, err
	}

	session, err := s.CreateSession(user.Username, domain.KindPremiumPurchase, pkg.Code, pkg.Price, clientIP, "")
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return nil, fmt.Errorf("premium package is not purchasable: %w", err)
		}
		return nil, err
	}
	s.logger.Info("created premium payment session", "user_id", userID, "package", pkg.Code, "txn_ref", session.TxnRef)
	return session, nil
}
