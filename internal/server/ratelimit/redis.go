package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces counter keys.
const DefaultRedisPrefix = "web2pdf:ratelimit"

// RedisLimiter counts requests in fixed windows shared by every replica. When Redis cannot
// be reached the request is allowed.
type RedisLimiter struct {
	client  *redis.Client
	config  *Config
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisLimiter creates a limiter backed by client. A nil config selects DefaultConfig.
func NewRedisLimiter(client *redis.Client, config *Config, logger *slog.Logger) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client:  client,
		config:  config,
		prefix:  DefaultRedisPrefix,
		timeout: 250 * time.Millisecond,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow increments the counter of the current window and compares it with the limit.
func (l *RedisLimiter) Allow(clientID string, endpoint string, method string) (bool, Info) {
	ec, decided := l.config.policy(clientID, endpoint, method)
	if decided != nil {
		return decided.Allowed, *decided
	}

	now := l.now()
	start := now.Truncate(ec.Window)
	reset := start.Add(ec.Window)
	key := fmt.Sprintf("%s:%s:%s:%s:%d", l.prefix, clientID, method, endpoint, start.Unix())

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ec.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request", "key", key, "error", err)
		return true, Info{Allowed: true, Limit: ec.Limit, Remaining: ec.Limit, ResetTime: reset}
	}

	count := int(incr.Val())
	info := Info{
		Allowed:   count <= ec.Limit,
		Limit:     ec.Limit,
		Remaining: max(ec.Limit-count, 0),
		ResetTime: reset,
	}
	if !info.Allowed {
		info.RetryAfter = reset.Sub(now)
	}
	return info.Allowed, info
}

// Stop closes the Redis client.
func (l *RedisLimiter) Stop() {
	if err := l.client.Close(); err != nil {
		l.logger.Warn("failed to close rate limit store", "error", err)
	}
}
