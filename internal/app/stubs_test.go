package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dinewise/billing-service/internal/config"
	"github.com/dinewise/billing-service/internal/domain"
	"github.com/dinewise/billing-service/internal/store"
	"github.com/dinewise/billing-service/pkg/vnpay"
)

const (
	staffID    = "2b0c6a3e-8f53-4c61-9a0e-1f0d6c1e2a01"
	otherStaff = "2b0c6a3e-8f53-4c61-9a0e-1f0d6c1e2a02"
	adminID    = "2b0c6a3e-8f53-4c61-9a0e-1f0d6c1e2a03"
	customerID = "2b0c6a3e-8f53-4c61-9a0e-1f0d6c1e2a04"

	restaurantID    = "7d5a1c2b-0e4f-4a8b-9c3d-2e1f0a9b8c01"
	otherRestaurant = "7d5a1c2b-0e4f-4a8b-9c3d-2e1f0a9b8c02"
	phoID        = "9e8d7c6b-5a49-4382-a1b0-c9d8e7f6a501"
	comID        = "9e8d7c6b-5a49-4382-a1b0-c9d8e7f6a502"
	soldOutID    = "9e8d7c6b-5a49-4382-a1b0-c9d8e7f6a503"
)

var testSecret = []byte("test-hash-secret")

// repoStub is an in-memory Repository. It enforces the (staff, period)
// uniqueness of bills the same way the database constraint does.
type repoStub struct {
	mu               sync.Mutex
	users            map[string]domain.User
	staffRestaurants map[string][]string
	bills            map[string]domain.StaffBilling
	orders           map[string]domain.Order
	menu             map[string]domain.MenuItem
	grants           map[string]domain.PremiumGrant
	billConflicts    int
}

func newRepoStub() *repoStub {
	return &repoStub{
		users: map[string]domain.User{
			staffID:    {ID: staffID, Username: "lan.staff", Role: domain.RoleStaff},
			otherStaff: {ID: otherStaff, Username: "hai.staff", Role: domain.RoleStaff},
			adminID:    {ID: adminID, Username: "admin", Role: domain.RoleAdmin},
			customerID: {ID: customerID, Username: "minh", Role: domain.RoleCustomer},
		},
		staffRestaurants: map[string][]string{restaurantID: {staffID}},
		bills:            map[string]domain.StaffBilling{},
		orders:           map[string]domain.Order{},
		menu: map[string]domain.MenuItem{
			phoID:     {ID: phoID, RestaurantID: restaurantID, Name: "Pho bo", Price: decimal.NewFromInt(55000), Available: true},
			comID:     {ID: comID, RestaurantID: restaurantID, Name: "Com tam", Price: decimal.NewFromInt(45000), Available: true},
			soldOutID: {ID: soldOutID, RestaurantID: restaurantID, Name: "Bun cha", Price: decimal.NewFromInt(50000), Available: false},
		},
		grants: map[string]domain.PremiumGrant{},
	}
}

func periodKey(t time.Time) string {
	return t.Format("2006-01")
}

func (r *repoStub) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (r *repoStub) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *repoStub) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, user := range r.users {
		if user.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *repoStub) ListStaffIDsForRestaurant(ctx context.Context, restaurantID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.staffRestaurants[restaurantID]...), nil
}

func (r *repoStub) IsStaffOfRestaurant(ctx context.Context, staffID, restaurantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.staffRestaurants[restaurantID] {
		if id == staffID {
			return true, nil
		}
	}
	return false, nil
}

func (r *repoStub) GetBillingByStaffPeriod(ctx context.Context, staffID string, period time.Time) (*domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bill := range r.bills {
		if bill.StaffID == staffID && periodKey(bill.Period) == periodKey(period) {
			b := bill
			return &b, nil
		}
	}
	return nil, store.ErrBillingNotFound
}

func (r *repoStub) InsertBilling(ctx context.Context, bill domain.StaffBilling) (*domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bills {
		if existing.StaffID == bill.StaffID && periodKey(existing.Period) == periodKey(bill.Period) {
			r.billConflicts++
			return nil, store.ErrBillingExists
		}
	}
	bill.ID = uuid.NewString()
	bill.Status = domain.BillingUnpaid
	bill.CreatedAt = time.Now()
	bill.UpdatedAt = bill.CreatedAt
	r.bills[bill.ID] = bill
	return &bill, nil
}

func (r *repoStub) GetBillingByID(ctx context.Context, billID string) (*domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[billID]
	if !ok {
		return nil, store.ErrBillingNotFound
	}
	return &bill, nil
}

func (r *repoStub) GetLatestBillingByStaff(ctx context.Context, staffID string) (*domain.StaffBilling, error) {
	bills, _ := r.ListBillingsByStaff(ctx, staffID, 1)
	if len(bills) == 0 {
		return nil, store.ErrBillingNotFound
	}
	return &bills[0], nil
}

func (r *repoStub) ListBillingsByStaff(ctx context.Context, staffID string, limit int) ([]domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bills []domain.StaffBilling
	for _, bill := range r.bills {
		if bill.StaffID == staffID {
			bills = append(bills, bill)
		}
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].Period.After(bills[j].Period) })
	if len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (r *repoStub) ListBillings(ctx context.Context, status *domain.BillingStatus, limit int) ([]domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bills []domain.StaffBilling
	for _, bill := range r.bills {
		if status == nil || bill.Status == *status {
			bills = append(bills, bill)
		}
	}
	if len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (r *repoStub) TransitionBillingStatus(ctx context.Context, billID string, from, to domain.BillingStatus) (*domain.StaffBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[billID]
	if !ok || bill.Status != from {
		return nil, nil
	}
	bill.Status = to
	bill.UpdatedAt = time.Now()
	r.bills[billID] = bill
	return &bill, nil
}

func (r *repoStub) GetMenuItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := map[string]domain.MenuItem{}
	for _, id := range ids {
		if item, ok := r.menu[id]; ok && item.RestaurantID == restaurantID {
			items[id] = item
		}
	}
	return items, nil
}

func (r *repoStub) InsertOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.ID = uuid.NewString()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.ID = uuid.NewString()
		item.OrderID = order.ID
		items[i] = item
	}
	order.Items = items
	r.orders[order.ID] = order
	return &order, nil
}

func (r *repoStub) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	return &order, nil
}

func (r *repoStub) ListOrdersByPayer(ctx context.Context, payerID string, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []domain.Order
	for _, order := range r.orders {
		if order.PayerID == payerID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (r *repoStub) TransitionOrderStatus(ctx context.Context, orderID string, t store.OrderTransition) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	allowed := false
	for _, from := range t.From {
		if order.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return nil, nil
	}
	order.Status = t.To
	if t.Method != nil {
		m := *t.Method
		order.PaymentMethod = &m
	}
	if t.Commission != nil {
		order.PlatformCommission = *t.Commission
	}
	r.orders[orderID] = order
	return &order, nil
}

func (r *repoStub) GrantPremium(ctx context.Context, userID string, pkg domain.PremiumPackage, txnRef string, now time.Time) (*domain.PremiumGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if grant, ok := r.grants[txnRef]; ok {
		grant.Applied = false
		return &grant, nil
	}
	user, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	base := now
	if user.PremiumExpiresAt != nil && user.PremiumExpiresAt.After(now) {
		base = *user.PremiumExpiresAt
	}
	expiresAt := base.AddDate(0, 0, pkg.DurationDays)
	user.PremiumExpiresAt = &expiresAt
	r.users[userID] = user

	grant := domain.PremiumGrant{UserID: userID, PackageCode: pkg.Code, TxnRef: txnRef, ExpiresAt: expiresAt, Applied: true}
	r.grants[txnRef] = grant
	return &grant, nil
}

// BillFeeRevenue and OrderRevenue mirror the SQL filters of the store.
func (r *repoStub) BillFeeRevenue(ctx context.Context, status domain.BillingStatus, q store.RevenueQuery) ([]store.RevenueBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := revenueSums{}
	for _, bill := range r.bills {
		day := bill.Period.Format("2006-01-02")
		if bill.Status != status ||
			(!q.From.IsZero() && day < q.From.Format("2006-01-02")) ||
			(!q.To.IsZero() && day >= q.To.Format("2006-01-02")) {
			continue
		}
		sums.add(truncateTo(bill.Period, q.Unit), bill.TotalFee, decimal.Zero)
	}
	return sums.buckets(), nil
}

func (r *repoStub) OrderRevenue(ctx context.Context, status domain.OrderStatus, q store.RevenueQuery) ([]store.RevenueBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, err := time.LoadLocation(q.TimeZone)
	if err != nil {
		return nil, err
	}
	sums := revenueSums{}
	for _, order := range r.orders {
		if order.Status != status ||
			(!q.From.IsZero() && order.CreatedAt.Before(q.From)) ||
			(!q.To.IsZero() && !order.CreatedAt.Before(q.To)) ||
			(q.RestaurantID != "" && order.RestaurantID != q.RestaurantID) {
			continue
		}
		if q.StaffID != "" && !containsString(r.staffRestaurants[order.RestaurantID], q.StaffID) {
			continue
		}
		sums.add(truncateTo(order.CreatedAt.In(loc), q.Unit), order.TotalAmount, order.PlatformCommission)
	}
	return sums.buckets(), nil
}

type revenueSums map[time.Time]store.RevenueBucket

func (s revenueSums) add(start time.Time, gross, commission decimal.Decimal) {
	b := s[start]
	b.Start = start
	b.Gross = b.Gross.Add(gross)
	b.Commission = b.Commission.Add(commission)
	s[start] = b
}

func (s revenueSums) buckets() []store.RevenueBucket {
	out := make([]store.RevenueBucket, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// truncateTo keeps the wall clock of t, as date_trunc on a local timestamp does.
func truncateTo(t time.Time, unit string) time.Time {
	if unit == domain.GroupByYear {
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func (r *repoStub) seedOrder(payer, restaurant string, total, commission int64, status domain.OrderStatus, createdAt time.Time) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := domain.Order{
		ID:                 uuid.NewString(),
		PayerID:            payer,
		RestaurantID:       restaurant,
		TotalAmount:        decimal.NewFromInt(total),
		PlatformCommission: decimal.NewFromInt(commission),
		Status:             status,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	r.orders[order.ID] = order
	return order
}

func (r *repoStub) bill(t *testing.T, id string) domain.StaffBilling {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[id]
	if !ok {
		t.Fatalf("bill %s not found", id)
	}
	return bill
}

func (r *repoStub) seedBill(staff string, period time.Time, total int64, status domain.BillingStatus) domain.StaffBilling {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill := domain.StaffBilling{
		ID:       uuid.NewString(),
		StaffID:  staff,
		Period:   period,
		TotalFee: decimal.NewFromInt(total),
		Currency: "VND",
		Status:   status,
		DueAt:    period.AddDate(0, 1, 5),
	}
	r.bills[bill.ID] = bill
	return bill
}

type counterStub struct {
	resources int
	activity  int
	err       error
	calls     int
	start     time.Time
	end       time.Time
	mu        sync.Mutex
	// gate, when set, blocks every ResourceCountFor call until it is released.
	gate func()
}

func (c *counterStub) ResourceCountFor(ctx context.Context, staffID string) (int, error) {
	if c.gate != nil {
		c.gate()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.resources, c.err
}

func (c *counterStub) ActivityCountFor(ctx context.Context, staffID string, start, end time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start, c.end = start, end
	return c.activity, c.err
}

type sentNotification struct {
	recipientID string
	message     string
}

type notifierStub struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *notifierStub) Notify(ctx context.Context, recipientID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{recipientID: recipientID, message: message})
	return nil
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *notifierStub) countFor(recipientID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.recipientID == recipientID {
			count++
		}
	}
	return count
}

type limiterStub struct {
	err   error
	kinds []domain.ReferenceKind
}

func (l *limiterStub) AllowPayment(ctx context.Context, kind domain.ReferenceKind, subject string) error {
	l.kinds = append(l.kinds, kind)
	return l.err
}

var fixedNow = time.Date(2026, time.April, 3, 10, 30, 0, 0, time.UTC)

func testGateway() config.Gateway {
	return config.Gateway{
		TmnCode:       "DINEWISE",
		HashSecret:    testSecret,
		PaymentURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		Version:       "2.1.0",
		Locale:        "vn",
		Currency:      "VND",
		SessionTTLMin: 15,
		ReturnURL:     "https://billing.example.com/payments/vnpay/return",
	}
}

func testFees() config.FeeSchedule {
	return config.FeeSchedule{
		PerRestaurant:       decimal.NewFromInt(300000),
		PerReservation:      decimal.NewFromInt(5000),
		OrderCommissionRate: decimal.RequireFromString("0.08"),
		BillDueDays:         5,
		PremiumPrice:        decimal.NewFromInt(100000),
		PremiumDays:         30,
	}
}

func newTestService(repo Repository, counter ResourceCounter) (*Service, *notifierStub) {
	notifier := &notifierStub{}
	svc := NewService(repo, counter, notifier, testGateway(), testFees(), "UTC", slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }
	return svc, notifier
}

// gatewayCallback simulates the gateway redirecting back after the session
// was paid with responseCode. mutate runs before signing.
func gatewayCallback(t *testing.T, session *PaymentSession, responseCode string, mutate func(map[string]string)) map[string]string {
	t.Helper()
	u, err := url.Parse(session.PaymentURL)
	if err != nil {
		t.Fatalf("expected valid payment url, got %v", err)
	}
	query := u.Query()
	params := map[string]string{
		vnpay.ParamTmnCode:           query.Get(vnpay.ParamTmnCode),
		vnpay.ParamAmount:            query.Get(vnpay.ParamAmount),
		vnpay.ParamOrderInfo:         query.Get(vnpay.ParamOrderInfo),
		vnpay.ParamTxnRef:            query.Get(vnpay.ParamTxnRef),
		vnpay.ParamResponseCode:      responseCode,
		vnpay.ParamTransactionStatus: responseCode,
		vnpay.ParamTransactionNo:     "14012345",
		vnpay.ParamBankCode:          "NCB",
	}
	if mutate != nil {
		mutate(params)
	}
	return signParams(t, params)
}

func signParams(t *testing.T, params map[string]string) map[string]string {
	t.Helper()
	canonical, err := vnpay.CanonicalString(params)
	if err != nil {
		t.Fatalf("expected canonical string, got %v", err)
	}
	params[vnpay.ParamSecureHash] = vnpay.Sign(canonical, testSecret)
	return params
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
