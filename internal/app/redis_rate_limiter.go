package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dinewise/billing-service/internal/domain"
)

const defaultPaymentLimiterPrefix = "billing:payment_attempts"

// RedisPaymentLimiter allows at most limit payment sessions per user and
// reference kind in a fixed window. Counters live in Redis so every replica
// shares them.
type RedisPaymentLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisPaymentLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisPaymentLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPaymentLimiterPrefix
	}
	if window > 0 && window < time.Second {
		window = time.Second
	}
	return &RedisPaymentLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisPaymentLimiter) key(kind domain.ReferenceKind, subject string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, strings.ToLower(string(kind)), subject)
}

// AllowPayment records one attempt and returns a *RateLimitError once the
// subject has used up its window for kind.
func (l *RedisPaymentLimiter) AllowPayment(ctx context.Context, kind domain.ReferenceKind, subject string) error {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 {
		return nil
	}
	subject = strings.TrimSpace(subject)
	if subject == "" || kind == "" {
		return nil
	}

	key := l.key(kind, subject)
	attempts, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count payment attempt: %w", err)
	}
	if attempts == 1 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("open payment window: %w", err)
		}
	}
	if attempts <= int64(l.limit) {
		return nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read payment window: %w", err)
	}
	if ttl <= 0 {
		// A counter without expiry would lock the subject out for good.
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("reopen payment window: %w", err)
		}
		ttl = l.window
	}
	return &RateLimitError{RetryAfterSeconds: retryAfterSeconds(ttl)}
}

func retryAfterSeconds(ttl time.Duration) int {
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
