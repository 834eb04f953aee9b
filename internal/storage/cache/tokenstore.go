package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/lakeshorelabs/go-push-router/pkg/dispatch"
	"github.com/lakeshorelabs/go-push-router/pkg/notification"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error when the key is absent.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that adds read-aside caching to any
// TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- Read path (read-aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, recipient string) (*notification.DeviceSet, error) {
	key := s.cacheKey(recipient)
	var cached notification.DeviceSet

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, recipient)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction; if Redis is down we
	// just serve from the source of truth.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- Write paths (invalidate-on-write) ---

func (s *CachedTokenStore) RegisterFCM(ctx context.Context, recipient, token string) error {
	if err := s.realStore.RegisterFCM(ctx, recipient, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

func (s *CachedTokenStore) RegisterAPNS(ctx context.Context, recipient, token string) error {
	if err := s.realStore.RegisterAPNS(ctx, recipient, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, recipient string, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, recipient, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

// UnregisterFCM must clear the cache even though the DB write already
// succeeded, so that delivery stops immediately.
func (s *CachedTokenStore) UnregisterFCM(ctx context.Context, recipient, token string) error {
	if err := s.realStore.UnregisterFCM(ctx, recipient, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

func (s *CachedTokenStore) UnregisterAPNS(ctx context.Context, recipient, token string) error {
	if err := s.realStore.UnregisterAPNS(ctx, recipient, token); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, recipient, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, recipient, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, recipient)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, recipient string) error {
	// Delete the key; the next Fetch is forced to the real store. This keeps
	// "disable notifications" actions immediately consistent.
	return s.cache.Del(ctx, s.cacheKey(recipient))
}

func (s *CachedTokenStore) cacheKey(recipient string) string {
	return fmt.Sprintf("pushrouter:devices:%s", recipient)
}
