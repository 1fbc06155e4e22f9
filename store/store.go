package store

import (
	"context"
	"time"

	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache settings
	cacheConfig cache.Config

	// Caches
	userCache        *cache.Cache // users by external id
	personalityCache *cache.Cache // personalities by id

	systemUserID string // synthetic owner of global personalities, resolved lazily
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	// Default cache settings
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
		OnEviction:      nil,
	}

	store := &Store{
		driver:           driver,
		profile:          profile,
		cacheConfig:      cacheConfig,
		userCache:        cache.New(cacheConfig),
		personalityCache: cache.New(cacheConfig),
	}

	return store
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	// Stop all cache cleanup goroutines
	s.userCache.Close()
	s.personalityCache.Close()

	return s.driver.Close()
}
