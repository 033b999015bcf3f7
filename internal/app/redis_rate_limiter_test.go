package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dinewise/billing-service/internal/domain"
)

// redisCounterStub implements the three commands the limiter issues.
// Any other call panics on the nil embedded client.
type redisCounterStub struct {
	redis.UniversalClient

	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newRedisCounterStub() *redisCounterStub {
	return &redisCounterStub{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (r *redisCounterStub) Incr(ctx context.Context, key string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return redis.NewIntResult(0, r.err)
	}
	r.counts[key]++
	return redis.NewIntResult(r.counts[key], nil)
}

func (r *redisCounterStub) PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (r *redisCounterStub) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	ttl, ok := r.ttls[key]
	if !ok {
		ttl = -1
	}
	return redis.NewDurationResult(ttl, nil)
}

func TestRedisPaymentLimiter_CountsPerKindAndSubject(t *testing.T) {
	client := newRedisCounterStub()
	limiter := NewRedisPaymentLimiter(client, "", 2, 10*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.AllowPayment(ctx, domain.KindStaffBilling, staffID); err != nil {
			t.Fatalf("attempt %d: expected allowed, got %v", i+1, err)
		}
	}

	err := limiter.AllowPayment(ctx, domain.KindStaffBilling, staffID)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rateErr.RetryAfterSeconds != 600 {
		t.Fatalf("expected retry after 600s, got %d", rateErr.RetryAfterSeconds)
	}

	if err := limiter.AllowPayment(ctx, domain.KindOrder, staffID); err != nil {
		t.Fatalf("expected order payments to use a separate budget, got %v", err)
	}
	if err := limiter.AllowPayment(ctx, domain.KindStaffBilling, otherStaff); err != nil {
		t.Fatalf("expected other staff to use a separate budget, got %v", err)
	}

	key := "billing:payment_attempts:staffbilling:" + staffID
	if client.counts[key] != 3 {
		t.Fatalf("expected 3 attempts counted for %s, got %d", key, client.counts[key])
	}
	if client.ttls[key] != 10*time.Minute {
		t.Fatalf("expected window expiry set on first attempt, got %v", client.ttls[key])
	}
}

func TestRedisPaymentLimiter_RetryAfterRoundsUp(t *testing.T) {
	client := newRedisCounterStub()
	limiter := NewRedisPaymentLimiter(client, "custom:", 1, time.Minute)
	key := "custom:order:" + customerID

	if err := limiter.AllowPayment(context.Background(), domain.KindOrder, customerID); err != nil {
		t.Fatalf("expected first attempt allowed, got %v", err)
	}
	client.ttls[key] = 1500 * time.Millisecond

	err := limiter.AllowPayment(context.Background(), domain.KindOrder, customerID)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfterSeconds != 2 {
		t.Fatalf("expected retry after 2s, got %v", err)
	}
}

func TestRedisPaymentLimiter_ReopensWindowWithoutExpiry(t *testing.T) {
	client := newRedisCounterStub()
	limiter := NewRedisPaymentLimiter(client, "", 1, time.Minute)
	key := "billing:payment_attempts:premiumpurchase:" + customerID
	client.counts[key] = 5

	err := limiter.AllowPayment(context.Background(), domain.KindPremiumPurchase, customerID)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfterSeconds != 60 {
		t.Fatalf("expected retry after 60s, got %v", err)
	}
	if client.ttls[key] != time.Minute {
		t.Fatalf("expected expiry restored, got %v", client.ttls[key])
	}
}

func TestRedisPaymentLimiter_Disabled(t *testing.T) {
	client := newRedisCounterStub()
	for name, limiter := range map[string]*RedisPaymentLimiter{
		"zero limit":  NewRedisPaymentLimiter(client, "", 0, time.Minute),
		"zero window": NewRedisPaymentLimiter(client, "", 1, 0),
		"nil client":  NewRedisPaymentLimiter(nil, "", 1, time.Minute),
	} {
		for i := 0; i < 3; i++ {
			if err := limiter.AllowPayment(context.Background(), domain.KindOrder, customerID); err != nil {
				t.Fatalf("%s: expected allowed, got %v", name, err)
			}
		}
	}
	if len(client.counts) != 0 {
		t.Fatalf("expected no redis traffic, got %v", client.counts)
	}
}

func TestStartPayment_FailsOpenWhenRedisIsDown(t *testing.T) {
	repo := newRepoStub()
	bill := repo.seedBill(staffID, march2026, 300000, domain.BillingUnpaid)
	svc, _ := newTestService(repo, &counterStub{})

	client := newRedisCounterStub()
	client.err = errors.New("dial tcp: connection refused")
	svc.WithRateLimiter(NewRedisPaymentLimiter(client, "", 1, time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := svc.StartBillingPayment(context.Background(), staffID, bill.ID, ""); err != nil {
			t.Fatalf("attempt %d: expected limiter outage to fail open, got %v", i+1, err)
		}
	}

	client.err = nil
	if _, err := svc.StartBillingPayment(context.Background(), staffID, bill.ID, ""); err != nil {
		t.Fatalf("expected first counted attempt allowed, got %v", err)
	}
	_, err := svc.StartBillingPayment(context.Background(), staffID, bill.ID, "")
	expectErr(t, err, ErrRateLimited)
}
