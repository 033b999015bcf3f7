package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/config"
	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
)

const defaultListLimit = 24

// BillGenerationResult summarizes a monthly generation run.
type BillGenerationResult struct {
	Period   time.Time `json:"period"`
	Staff    int       `json:"staff"`
	Created  int       `json:"created"`
	Existing int       `json:"existing"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
}

// ComputeFee prices the counts with the fee schedule.
func ComputeFee(resourceCount, activityCount int, fees config.FeeSchedule) (resourceFee, activityFee, total decimal.Decimal) {
	resourceFee = fees.PerRestaurant.Mul(decimal.NewFromInt(int64(resourceCount)))
	activityFee = fees.PerReservation.Mul(decimal.NewFromInt(int64(activityCount)))
	return resourceFee, activityFee, resourceFee.Add(activityFee)
}

// PreviousPeriod returns the start of the month before the current one.
func (s *Service) PreviousPeriod() time.Time {
	return domain.PeriodStart(s.now(), s.loc).AddDate(0, -1, 0)
}

// CurrentPeriod returns the start of the current month.
func (s *Service) CurrentPeriod() time.Time {
	return domain.PeriodStart(s.now(), s.loc)
}

// CalculateMonthlyFee returns the bill for staffID and the month containing
// period, creating it when none exists. It returns nil when there is nothing
// to bill. An existing bill is returned unchanged.
func (s *Service) CalculateMonthlyFee(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error) {
	bill, _, err := s.calculateMonthlyFee(ctx, staffID, period)
	return bill, err
}

func (s *Service) calculateMonthlyFee(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, bool, error) {
	if staffID == "" {
		return nil, false, errors.New("staff ID cannot be empty")
	}
	start := domain.PeriodStart(period, s.loc)
	end := start.AddDate(0, 1, 0)

	existing, err := s.repo.GetBillingByStaffPeriod(ctx, staffID, start)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrBillingNotFound) {
		return nil, false, fmt.Errorf("load bill: %w", err)
	}

	resources, err := s.counter.ResourceCountFor(ctx, staffID)
	if err != nil {
		return nil, false, fmt.Errorf("count managed restaurants: %w", err)
	}
	if resources <= 0 {
		return nil, false, nil
	}
	activity, err := s.counter.ActivityCountFor(ctx, staffID, start, end)
	if err != nil {
		return nil, false, fmt.Errorf("count confirmed reservations: %w", err)
	}

	resourceFee, activityFee, total := ComputeFee(resources, activity, s.fees)
	if !total.IsPositive() {
		return nil, false, nil
	}

	created, err := s.repo.InsertBilling(ctx, domain.StaffBilling{
		StaffID:              staffID,
		Period:               start,
		ManagedResourceCount: resources,
		ActivityCount:        activity,
		ResourceFee:          resourceFee,
		ActivityFee:          activityFee,
		TotalFee:             total,
		Currency:             s.gateway.Currency,
		Status:               domain.BillingUnpaid,
		DueAt:                s.now().AddDate(0, 0, s.fees.BillDueDays),
	})
	if err != nil {
		if errors.Is(err, store.ErrBillingExists) {
			winner, err := s.repo.GetBillingByStaffPeriod(ctx, staffID, start)
			if err != nil {
				return nil, false, fmt.Errorf("reload bill after conflict: %w", err)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("insert bill: %w", err)
	}
	return created, true, nil
}

// IssueMonthlyBill is CalculateMonthlyFee plus a notification to the staff
// member when a new bill was created.
func (s *Service) IssueMonthlyBill(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error) {
	bill, created, err := s.calculateMonthlyFee(ctx, staffID, period)
	if err != nil || bill == nil {
		return bill, err
	}
	if created {
		s.logger.Info("issued staff bill", "bill_id", bill.ID, "staff_id", staffID, "period", bill.Period.Format("2006-01"), "total_fee", bill.TotalFee.String())
		s.notifyBillIssued(ctx, bill)
	}
	return bill, nil
}

// GenerateMonthlyBills issues bills for every staff user for the month
// containing period. Failures for one staff member do not stop the run.
func (s *Service) GenerateMonthlyBills(ctx context.Context, period time.Time) (*BillGenerationResult, error) {
	start := domain.PeriodStart(period, s.loc)
	staffIDs, err := s.repo.ListUserIDsByRole(ctx, domain.RoleStaff)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}

	result := &BillGenerationResult{Period: start, Staff: len(staffIDs)}
	for _, staffID := range staffIDs {
		bill, created, err := s.calculateMonthlyFee(ctx, staffID, start)
		switch {
		case err != nil:
			result.Failed++
			s.logger.Error("failed to issue staff bill", "staff_id", staffID, "period", start.Format("2006-01"), "error", err)
		case bill == nil:
			result.Skipped++
		case created:
			result.Created++
			s.notifyBillIssued(ctx, bill)
		default:
			result.Existing++
		}
	}
	return result, nil
}

func (s *Service) notifyBillIssued(ctx context.Context, bill *domain.StaffBilling) {
	s.notify(ctx, bill.StaffID, fmt.Sprintf(
		"Your platform bill for %s is %s %s, due %s.",
		bill.Period.Format("2006-01"), bill.TotalFee.String(), bill.Currency, bill.DueAt.In(s.loc).Format("2006-01-02"),
	))
}

// ListBills returns a staff member's bills, newest period first.
func (s *Service) ListBills(ctx context.Context, staffID string, limit int) ([]domain.StaffBilling, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListBillingsByStaff(ctx, staffID, limit)
}

// ListBillsForReview returns bills across staff, optionally filtered by status.
func (s *Service) ListBillsForReview(ctx context.Context, status *domain.BillingStatus, limit int) ([]domain.StaffBilling, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListBillings(ctx, status, limit)
}

// GetBillingSummary reports the state of the staff member's latest bill.
func (s *Service) GetBillingSummary(ctx context.Context, staffID string) (*domain.BillingSummary, error) {
	bill, err := s.repo.GetLatestBillingByStaff(ctx, staffID)
	if err != nil {
		if errors.Is(err, store.ErrBillingNotFound) {
			return &domain.BillingSummary{Status: "none"}, nil
		}
		return nil, err
	}

	unpaid := bill.Status == domain.BillingUnpaid
	return &domain.BillingSummary{
		Status:    string(bill.Status),
		BillID:    bill.ID,
		Period:    &bill.Period,
		DueAt:     &bill.DueAt,
		TotalFee:  &bill.TotalFee,
		Currency:  bill.Currency,
		IsOverdue: unpaid && s.now().After(bill.DueAt),
		CanPay:    unpaid,
	}, nil
}

// AcceptBill approves a bill awaiting review.
func (s *Service) AcceptBill(ctx context.Context, billID string) (*domain.StaffBilling, error) {
	return s.decideBill(ctx, billID, domain.BillingAccepted)
}

// RejectBill rejects a bill awaiting review.
func (s *Service) RejectBill(ctx context.Context, billID string) (*domain.StaffBilling, error) {
	return s.decideBill(ctx, billID, domain.BillingRejected)
}

func (s *Service) decideBill(ctx context.Context, billID string, to domain.BillingStatus) (*domain.StaffBilling, error) {
	bill, err := s.repo.TransitionBillingStatus(ctx, billID, domain.BillingPending, to)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		current, err := s.repo.GetBillingByID(ctx, billID)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			return nil, fmt.Errorf("%w: bill was already %s", ErrInvalidTransition, current.Status)
		}
		return nil, fmt.Errorf("%w: bill is %s, not %s", ErrInvalidTransition, current.Status, domain.BillingPending)
	}

	s.logger.Info("staff bill reviewed", "bill_id", bill.ID, "staff_id", bill.StaffID, "status", bill.Status)
	s.notify(ctx, bill.StaffID, fmt.Sprintf("Your platform bill for %s was %s.", bill.Period.Format("2006-01"), bill.Status))
	return bill, nil
}
