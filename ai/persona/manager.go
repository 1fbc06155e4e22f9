package persona

import (
	"context"
	"log/slog"
	"time"

	"github.com/reveriehq/reverie/store"
	storecache "github.com/reveriehq/reverie/store/cache"
)

// Store is the slice of the storage layer the manager uses. *store.Store
// satisfies it.
type Store interface {
	SystemUserID(ctx context.Context) (string, error)
	ResolvePersonality(ctx context.Context, userID, name string) (*store.Personality, error)
	GetPersonality(ctx context.Context, id string) (*store.Personality, error)
	CreatePersonality(ctx context.Context, create *store.Personality) (*store.Personality, error)
	UpdatePersonality(ctx context.Context, update *store.UpdatePersonality) (*store.Personality, error)
	DeletePersonality(ctx context.Context, delete *store.DeletePersonality) error
	ListPersonalities(ctx context.Context, find *store.FindPersonality) ([]*store.Personality, error)
}

// Manager resolves personalities by name with a read-through cache.
// Global definitions rarely change, so entries live for a day; updates
// flush both the id key and the config key for that name.
type Manager struct {
	store       Store
	cache       *storecache.Cache
	defaultName string
}

func NewManager(st Store) *Manager {
	return &Manager{
		store: st,
		cache: storecache.New(storecache.Config{
			DefaultTTL:      24 * time.Hour,
			CleanupInterval: time.Hour,
			MaxItems:        10000,
		}),
		defaultName: DefaultPersonalityName,
	}
}

// WithDefault overrides which personality an empty name resolves to.
// An empty override is ignored.
func (m *Manager) WithDefault(name string) *Manager {
	if name != "" {
		m.defaultName = name
	}
	return m
}

func (m *Manager) Close() {
	m.cache.Close()
}

func idKey(id string) string {
	return "id:" + id
}

func configKey(ownerUserID, name string) string {
	return "config:" + ownerUserID + ":" + name
}

// Resolve finds a personality by name for the given user: the user's own
// personalities shadow the globals. An empty name resolves the default.
func (m *Manager) Resolve(ctx context.Context, userID, name string) (*store.Personality, error) {
	if name == "" {
		name = m.defaultName
	}

	if v, ok := m.cache.Get(configKey(userID, name)); ok {
		if p, ok := v.(*store.Personality); ok {
			return p, nil
		}
	}
	if systemUserID, err := m.store.SystemUserID(ctx); err == nil {
		if v, ok := m.cache.Get(configKey(systemUserID, name)); ok {
			if p, ok := v.(*store.Personality); ok {
				return p, nil
			}
		}
	}

	personality, err := m.store.ResolvePersonality(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if personality == nil {
		return nil, nil
	}

	m.cache.Set(configKey(personality.OwnerUserID, personality.Name), personality)
	m.cache.Set(idKey(personality.ID), personality)
	return personality, nil
}

// Get loads a personality by id through the cache.
func (m *Manager) Get(ctx context.Context, id string) (*store.Personality, error) {
	if v, ok := m.cache.Get(idKey(id)); ok {
		if p, ok := v.(*store.Personality); ok {
			return p, nil
		}
	}
	personality, err := m.store.GetPersonality(ctx, id)
	if err != nil {
		return nil, err
	}
	if personality == nil {
		return nil, nil
	}
	m.cache.Set(idKey(personality.ID), personality)
	return personality, nil
}

func (m *Manager) Create(ctx context.Context, create *store.Personality) (*store.Personality, error) {
	if create.Archetype != "" {
		ApplyArchetype(create, create.Archetype)
	}
	personality, err := m.store.CreatePersonality(ctx, create)
	if err != nil {
		return nil, err
	}
	m.cache.Set(configKey(personality.OwnerUserID, personality.Name), personality)
	m.cache.Set(idKey(personality.ID), personality)
	return personality, nil
}

func (m *Manager) Update(ctx context.Context, update *store.UpdatePersonality) (*store.Personality, error) {
	personality, err := m.store.UpdatePersonality(ctx, update)
	if err != nil {
		return nil, err
	}
	m.invalidate(personality)
	m.cache.Set(configKey(personality.OwnerUserID, personality.Name), personality)
	m.cache.Set(idKey(personality.ID), personality)
	return personality, nil
}

func (m *Manager) Delete(ctx context.Context, personality *store.Personality) error {
	if err := m.store.DeletePersonality(ctx, &store.DeletePersonality{ID: personality.ID}); err != nil {
		return err
	}
	m.invalidate(personality)
	return nil
}

func (m *Manager) invalidate(personality *store.Personality) {
	m.cache.Delete(idKey(personality.ID))
	m.cache.Delete(configKey(personality.OwnerUserID, personality.Name))
}

// SeedGlobals ensures the built-in global personalities exist. Existing
// rows are left untouched so operator edits survive restarts.
func (m *Manager) SeedGlobals(ctx context.Context) error {
	systemUserID, err := m.store.SystemUserID(ctx)
	if err != nil {
		return err
	}

	for _, seed := range globalSeeds {
		existing, err := m.store.ListPersonalities(ctx, &store.FindPersonality{
			OwnerUserID: &systemUserID,
			Name:        &seed.Name,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		personality := seed
		personality.OwnerUserID = systemUserID
		ApplyArchetype(&personality, personality.Archetype)
		if _, err := m.store.CreatePersonality(ctx, &personality); err != nil {
			return err
		}
		slog.Info("seeded global personality", slog.String("name", personality.Name))
	}
	return nil
}
