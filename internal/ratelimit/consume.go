package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/zimmerhq/zimmer/internal/config"
)

const (
	keyConsumeGrant = "consume:grant:%s"
	keyProberLock   = "prober:lock:%s"
)

// ConsumeLimiter throttles the consume endpoint per grant and hands out the
// health prober's leadership lock. Disabled entirely when rate limiting is
// off in the configuration.
type ConsumeLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewConsumeLimiter(cfg config.Config) (*ConsumeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConsumeRate <= 0 || limitCfg.ConsumeBurst <= 0 {
		return nil, errors.New("consume rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ConsumeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.ConsumeRate,
		burst:   limitCfg.ConsumeBurst,
		lockTTL: time.Duration(limitCfg.ProberLockTTLSeconds) * time.Second,
	}, nil
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowGrant admits or throttles one consume call for a grant.
func (l *ConsumeLimiter) AllowGrant(ctx context.Context, grantID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyConsumeGrant, strings.TrimSpace(grantID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// TryProberLock elects a single prober instance per cycle.
func (l *ConsumeLimiter) TryProberLock(ctx context.Context, cycle string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyProberLock, cycle), l.lockTTL)
}

// ReleaseProberLock frees the cycle lock early.
func (l *ConsumeLimiter) ReleaseProberLock(ctx context.Context, cycle, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyProberLock, cycle), token)
}
