package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
)

type revenueKey struct {
	year  int
	month time.Month
}

func bucketKey(start time.Time, groupBy string) revenueKey {
	if groupBy == domain.GroupByYear {
		return revenueKey{year: start.Year()}
	}
	return revenueKey{year: start.Year(), month: start.Month()}
}

// PlatformRevenue reports what the platform earned: fees of accepted staff
// bills plus commission on confirmed orders. Monthly reports cover the
// twelve months of year; yearly reports cover every year with revenue.
// A zero year selects the current year.
func (s *Service) PlatformRevenue(ctx context.Context, groupBy string, year int) (*domain.RevenueReport, error) {
	groupBy = strings.ToLower(strings.TrimSpace(groupBy))
	if groupBy == "" {
		groupBy = domain.GroupByMonth
	}
	if groupBy != domain.GroupByMonth && groupBy != domain.GroupByYear {
		return nil, fmt.Errorf("%w: group_by must be %s or %s", ErrInvalidReport, domain.GroupByMonth, domain.GroupByYear)
	}

	query := store.RevenueQuery{Unit: groupBy, TimeZone: s.loc.String()}
	if groupBy == domain.GroupByMonth {
		var err error
		if year, err = s.reportYear(year); err != nil {
			return nil, err
		}
		query.From, query.To = s.yearBounds(year)
	}

	bills, err := s.repo.BillFeeRevenue(ctx, domain.BillingAccepted, query)
	if err != nil {
		return nil, fmt.Errorf("sum accepted bill fees: %w", err)
	}
	orders, err := s.repo.OrderRevenue(ctx, domain.OrderConfirmed, query)
	if err != nil {
		return nil, fmt.Errorf("sum order commission: %w", err)
	}

	amounts := map[revenueKey]decimal.Decimal{}
	for _, b := range bills {
		key := bucketKey(b.Start, groupBy)
		amounts[key] = amounts[key].Add(b.Gross)
	}
	for _, o := range orders {
		key := bucketKey(o.Start, groupBy)
		amounts[key] = amounts[key].Add(o.Commission)
	}

	if groupBy == domain.GroupByYear {
		return s.yearlyReport(amounts), nil
	}
	return s.monthlyReport(year, amounts), nil
}

// StaffFoodRevenue reports what staffID's restaurants kept from confirmed
// orders, net of platform commission, for each month of year. An empty
// restaurantID covers every restaurant the staff member manages.
func (s *Service) StaffFoodRevenue(ctx context.Context, staffID, restaurantID string, year int) (*domain.RevenueReport, error) {
	year, err := s.reportYear(year)
	if err != nil {
		return nil, err
	}
	if restaurantID != "" {
		manages, err := s.repo.IsStaffOfRestaurant(ctx, staffID, restaurantID)
		if err != nil {
			return nil, err
		}
		if !manages {
			return nil, ErrForbidden
		}
	}

	from, to := s.yearBounds(year)
	orders, err := s.repo.OrderRevenue(ctx, domain.OrderConfirmed, store.RevenueQuery{
		Unit:         domain.GroupByMonth,
		From:         from,
		To:           to,
		TimeZone:     s.loc.String(),
		StaffID:      staffID,
		RestaurantID: restaurantID,
	})
	if err != nil {
		return nil, fmt.Errorf("sum staff order revenue: %w", err)
	}

	amounts := map[revenueKey]decimal.Decimal{}
	for _, o := range orders {
		key := bucketKey(o.Start, domain.GroupByMonth)
		amounts[key] = amounts[key].Add(o.Gross.Sub(o.Commission))
	}
	return s.monthlyReport(year, amounts), nil
}

func (s *Service) reportYear(year int) (int, error) {
	if year == 0 {
		return s.now().In(s.loc).Year(), nil
	}
	if year < 2000 || year > 9999 {
		return 0, fmt.Errorf("%w: year %d out of range", ErrInvalidReport, year)
	}
	return year, nil
}

func (s *Service) yearBounds(year int) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
	return from, from.AddDate(1, 0, 0)
}

func (s *Service) monthlyReport(year int, amounts map[revenueKey]decimal.Decimal) *domain.RevenueReport {
	report := &domain.RevenueReport{GroupBy: domain.GroupByMonth, Year: year, Points: make([]domain.RevenuePoint, 0, 12)}
	for month := time.January; month <= time.December; month++ {
		start := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
		amount := amounts[revenueKey{year: year, month: month}]
		report.Points = append(report.Points, domain.RevenuePoint{Label: start.Format("2006-01"), Start: start, Amount: amount})
		report.Total = report.Total.Add(amount)
	}
	return report
}

func (s *Service) yearlyReport(amounts map[revenueKey]decimal.Decimal) *domain.RevenueReport {
	years := make([]int, 0, len(amounts))
	for key := range amounts {
		years = append(years, key.year)
	}
	sort.Ints(years)

	report := &domain.RevenueReport{GroupBy: domain.GroupByYear, Points: make([]domain.RevenuePoint, 0, len(years))}
	for _, year := range years {
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
		amount := amounts[revenueKey{year: year}]
		report.Points = append(report.Points, domain.RevenuePoint{Label: start.Format("2006"), Start: start, Amount: amount})
		report.Total = report.Total.Add(amount)
	}
	return report
}
