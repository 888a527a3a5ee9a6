// Package eligibility caches marketplace eligibility answers in Redis.
package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adgyapan/escrow/pkg/escrow"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how long a stale answer can be served.
	DefaultTTL       = time.Minute
	defaultKeyPrefix = "escrow:eligibility"
	kindEnrollment   = "enrollment"
	kindSubscription = "subscription"
)

var (
	errNilProvider = errors.New("eligibility: provider is required")
	errNilClient   = errors.New("eligibility: redis client is required")
)

type cachedEnrollment struct {
	KYCStatus string `json:"kyc_status"`
}

type cachedSubscription struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
}

// CachedProvider is a read-through Redis cache in front of another provider. Redis failures
// degrade to the wrapped provider.
type CachedProvider struct {
	next      escrow.EligibilityProvider
	client    redis.Cmdable
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// Option configures a CachedProvider.
type Option func(*CachedProvider)

// WithKeyPrefix namespaces cache keys.
func WithKeyPrefix(prefix string) Option {
	return func(provider *CachedProvider) {
		if prefix != "" {
			provider.keyPrefix = prefix
		}
	}
}

// WithLogger reports cache failures.
func WithLogger(logger *zap.Logger) Option {
	return func(provider *CachedProvider) {
		if logger != nil {
			provider.logger = logger
		}
	}
}

// NewCachedProvider wraps next with a Redis cache. A non-positive ttl uses DefaultTTL.
func NewCachedProvider(next escrow.EligibilityProvider, client redis.Cmdable, ttl time.Duration, options ...Option) (*CachedProvider, error) {
	if next == nil {
		return nil, errNilProvider
	}
	if client == nil {
		return nil, errNilClient
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	provider := &CachedProvider{
		next:      next,
		client:    client,
		ttl:       ttl,
		keyPrefix: defaultKeyPrefix,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(provider)
		}
	}
	return provider, nil
}

func (provider *CachedProvider) EnrollmentStatus(ctx context.Context, userID escrow.UserID) (escrow.Enrollment, error) {
	key := provider.key(kindEnrollment, userID)
	var cached cachedEnrollment
	if provider.load(ctx, key, &cached) {
		status, err := escrow.ParseKYCStatus(cached.KYCStatus)
		if err == nil {
			return escrow.Enrollment{KYCStatus: status}, nil
		}
		provider.logger.Warn("discarding cached enrollment", zap.String("key", key), zap.Error(err))
	}
	enrollment, err := provider.next.EnrollmentStatus(ctx, userID)
	if err != nil {
		return escrow.Enrollment{}, err
	}
	provider.store(ctx, key, cachedEnrollment{KYCStatus: enrollment.KYCStatus.String()})
	return enrollment, nil
}

func (provider *CachedProvider) SubscriptionTier(ctx context.Context, userID escrow.UserID) (escrow.Subscription, error) {
	key := provider.key(kindSubscription, userID)
	var cached cachedSubscription
	if provider.load(ctx, key, &cached) {
		return escrow.Subscription{Plan: cached.Plan, Status: cached.Status}, nil
	}
	subscription, err := provider.next.SubscriptionTier(ctx, userID)
	if err != nil {
		return escrow.Subscription{}, err
	}
	provider.store(ctx, key, cachedSubscription{Plan: subscription.Plan, Status: subscription.Status})
	return subscription, nil
}

// Invalidate drops both cached answers for a user.
func (provider *CachedProvider) Invalidate(ctx context.Context, userID escrow.UserID) error {
	err := provider.client.Del(ctx, provider.key(kindEnrollment, userID), provider.key(kindSubscription, userID)).Err()
	if err != nil {
		return fmt.Errorf("invalidate eligibility cache: %w", err)
	}
	return nil
}

func (provider *CachedProvider) key(kind string, userID escrow.UserID) string {
	return provider.keyPrefix + ":" + kind + ":" + userID.String()
}

func (provider *CachedProvider) load(ctx context.Context, key string, target interface{}) bool {
	payload, err := provider.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		provider.logger.Warn("eligibility cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(payload, target); err != nil {
		provider.logger.Warn("eligibility cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (provider *CachedProvider) store(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := provider.client.Set(ctx, key, string(payload), provider.ttl).Err(); err != nil {
		provider.logger.Warn("eligibility cache write failed", zap.String("key", key), zap.Error(err))
	}
}
