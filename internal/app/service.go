/**
 * @description
 * Core business logic for staff billing, order payments and premium purchases.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dinewise/billing-service/internal/config"
	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
)

const notifyTimeout = 5 * time.Second

// Repository defines the database operations the service needs.
type Repository interface {
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
	ListStaffIDsForRestaurant(ctx context.Context, restaurantID string) ([]string, error)
	IsStaffOfRestaurant(ctx context.Context, staffID, restaurantID string) (bool, error)

	GetBillingByStaffPeriod(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error)
	InsertBilling(ctx context.Context, bill domain.StaffBilling) (*domain.StaffBilling, error)
	GetBillingByID(ctx context.Context, billID string) (*domain.StaffBilling, error)
	GetLatestBillingByStaff(ctx context.Context, staffID string) (*domain.StaffBilling, error)
	ListBillingsByStaff(ctx context.Context, staffID string, limit int) ([]domain.StaffBilling, error)
	ListBillings(ctx context.Context, status *domain.BillingStatus, limit int) ([]domain.StaffBilling, error)
	TransitionBillingStatus(ctx context.Context, billID string, from, to domain.BillingStatus) (*domain.StaffBilling, error)

	GetMenuItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error)
	InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByPayer(ctx context.Context, payerID string, limit int) ([]domain.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID string, t store.OrderTransition) (*domain.Order, error)

	GrantPremium(ctx context.Context, userID string, pkg domain.PremiumPackage, txnRef string, now time.Time) (*domain.PremiumGrant, error)

	BillFeeRevenue(ctx context.Context, status domain.BillingStatus, q store.RevenueQuery) ([]store.RevenueBucket, error)
	OrderRevenue(ctx context.Context, status domain.OrderStatus, q store.RevenueQuery) ([]store.RevenueBucket, error)
}

// ResourceCounter provides the per-staff counts a monthly fee is derived from.
type ResourceCounter interface {
	ResourceCountFor(ctx context.Context, staffID string) (int, error)
	ActivityCountFor(ctx context.Context, staffID string, start, end time.Time) (int, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Notifier delivers a short message to one user.
type Notifier interface {
	Notify(ctx context.Context, recipientID, message string) error
}

// PaymentLimiter admits or refuses a new payment session for subject.
// A refusal is a *RateLimitError; any other error means the limiter itself failed.
type PaymentLimiter interface {
	AllowPayment(ctx context.Context, kind domain.ReferenceKind, subject string) error
}

// Service provides the business logic for billing and payment reconciliation.
type Service struct {
	repo     Repository
	counter  ResourceCounter
	notifier Notifier
	limiter  PaymentLimiter
	gateway  config.Gateway
	fees     config.FeeSchedule
	loc      *time.Location
	logger   *slog.Logger

	now     func() time.Time
	lastTxn atomic.Int64
}

// NewService creates a new billing service.
func NewService(
	repo Repository,
	counter ResourceCounter,
	notifier Notifier,
	gateway config.Gateway,
	fees config.FeeSchedule,
	timezone string,
	logger *slog.Logger,
) *Service {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("WARN: invalid timezone %q, defaulting to UTC", timezone)
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:     repo,
		counter:  counter,
		notifier: notifier,
		gateway:  gateway,
		fees:     fees,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRateLimiter enables limiting of payment-session creation per user.
func (s *Service) WithRateLimiter(limiter PaymentLimiter) *Service {
	s.limiter = limiter
	return s
}

// Location returns the business timezone billing periods are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// PremiumPackage returns the purchasable premium package.
func (s *Service) PremiumPackage() domain.PremiumPackage {
	return domain.PremiumPackage{
		Code:         fmt.Sprintf("premium-%dd", s.fees.PremiumDays),
		Name:         fmt.Sprintf("Premium %d days", s.fees.PremiumDays),
		Price:        s.fees.PremiumPrice,
		DurationDays: s.fees.PremiumDays,
	}
}

// nextTxnRef returns a strictly increasing nanosecond timestamp.
func (s *Service) nextTxnRef(now time.Time) string {
	for {
		last := s.lastTxn.Load()
		next := now.UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.lastTxn.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

func (s *Service) checkRateLimit(ctx context.Context, kind domain.ReferenceKind, subject string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.AllowPayment(ctx, kind, subject)
	var rateErr *RateLimitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rateErr):
		return rateErr
	default:
		s.logger.Warn("payment rate limiter unavailable", "kind", kind, "error", err)
		return nil
	}
}

// notify is best effort: the state change it reports is already committed.
func (s *Service) notify(ctx context.Context, recipientID, message string) {
	if s.notifier == nil || recipientID == "" {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(notifyCtx, recipientID, message); err != nil {
		s.logger.Warn("failed to send notification", "recipient_id", recipientID, "error", err)
	}
}

func (s *Service) notifyAll(ctx context.Context, recipientIDs []string, message string) {
	for _, id := range recipientIDs {
		s.notify(ctx, id, message)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, message string) {
	admins, err := s.repo.ListUserIDsByRole(ctx, domain.RoleAdmin)
	if err != nil {
		s.logger.Warn("failed to list admins for notification", "error", err)
		return
	}
	s.notifyAll(ctx, admins, message)
}

func (s *Service) notifyRestaurantStaff(ctx context.Context, restaurantID, message string) {
	staff, err := s.repo.ListStaffIDsForRestaurant(ctx, restaurantID)
	if err != nil {
		s.logger.Warn("failed to list restaurant staff for notification", "restaurant_id", restaurantID, "error", err)
		return
	}
	s.notifyAll(ctx, staff, message)
}
