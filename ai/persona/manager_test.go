package persona

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/store"
)

// fakeStore is an in-memory Store that counts resolution hits so tests can
// observe cache behavior.
type fakeStore struct {
	systemUserID  string
	personalities map[string]*store.Personality
	resolveCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		systemUserID:  "system-user-id",
		personalities: map[string]*store.Personality{},
	}
}

func (f *fakeStore) SystemUserID(_ context.Context) (string, error) {
	return f.systemUserID, nil
}

func (f *fakeStore) ResolvePersonality(_ context.Context, userID, name string) (*store.Personality, error) {
	f.resolveCalls++
	for _, p := range f.personalities {
		if p.OwnerUserID == userID && p.Name == name {
			return p, nil
		}
	}
	for _, p := range f.personalities {
		if p.OwnerUserID == f.systemUserID && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPersonality(_ context.Context, id string) (*store.Personality, error) {
	return f.personalities[id], nil
}

func (f *fakeStore) CreatePersonality(_ context.Context, create *store.Personality) (*store.Personality, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	create.Version = 1
	f.personalities[create.ID] = create
	return create, nil
}

func (f *fakeStore) UpdatePersonality(_ context.Context, update *store.UpdatePersonality) (*store.Personality, error) {
	p := f.personalities[update.ID]
	if update.Traits != nil {
		p.Traits = *update.Traits
	}
	if update.Archetype != nil {
		p.Archetype = *update.Archetype
	}
	p.Version++
	return p, nil
}

func (f *fakeStore) DeletePersonality(_ context.Context, del *store.DeletePersonality) error {
	delete(f.personalities, del.ID)
	return nil
}

func (f *fakeStore) ListPersonalities(_ context.Context, find *store.FindPersonality) ([]*store.Personality, error) {
	list := []*store.Personality{}
	for _, p := range f.personalities {
		if find.OwnerUserID != nil && p.OwnerUserID != *find.OwnerUserID {
			continue
		}
		if find.Name != nil && p.Name != *find.Name {
			continue
		}
		if find.ID != nil && p.ID != *find.ID {
			continue
		}
		list = append(list, p)
	}
	return list, nil
}

func TestResolveCachesByName(t *testing.T) {
	fs := newFakeStore()
	fs.personalities["p1"] = &store.Personality{
		ID: "p1", OwnerUserID: fs.systemUserID, Name: "elara",
	}
	m := NewManager(fs)
	defer m.Close()
	ctx := context.Background()

	first, err := m.Resolve(ctx, "alice-id", "elara")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, 1, fs.resolveCalls)

	// Second resolve, even from another user, hits the cached global.
	second, err := m.Resolve(ctx, "bob-id", "elara")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "p1", second.ID)
	assert.Equal(t, 1, fs.resolveCalls)
}

func TestResolveDefaultsName(t *testing.T) {
	fs := newFakeStore()
	fs.personalities["p1"] = &store.Personality{
		ID: "p1", OwnerUserID: fs.systemUserID, Name: DefaultPersonalityName,
	}
	m := NewManager(fs)
	defer m.Close()

	p, err := m.Resolve(context.Background(), "alice-id", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, DefaultPersonalityName, p.Name)
}

func TestResolveUnknownReturnsNil(t *testing.T) {
	m := NewManager(newFakeStore())
	defer m.Close()

	p, err := m.Resolve(context.Background(), "alice-id", "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	fs := newFakeStore()
	fs.personalities["p1"] = &store.Personality{
		ID: "p1", OwnerUserID: fs.systemUserID, Name: "elara",
		Traits: store.PersonalityTraits{Playfulness: 3},
	}
	m := NewManager(fs)
	defer m.Close()
	ctx := context.Background()

	_, err := m.Resolve(ctx, "alice-id", "elara")
	require.NoError(t, err)

	newTraits := store.PersonalityTraits{Playfulness: 8}
	_, err = m.Update(ctx, &store.UpdatePersonality{ID: "p1", Traits: &newTraits})
	require.NoError(t, err)

	resolved, err := m.Resolve(ctx, "alice-id", "elara")
	require.NoError(t, err)
	assert.Equal(t, 8, resolved.Traits.Playfulness)
}

func TestSeedGlobalsIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	m := NewManager(fs)
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.SeedGlobals(ctx))
	require.Len(t, fs.personalities, 2)

	require.NoError(t, m.SeedGlobals(ctx))
	assert.Len(t, fs.personalities, 2)

	elara, err := m.Resolve(ctx, "anyone", "elara")
	require.NoError(t, err)
	require.NotNil(t, elara)
	assert.Equal(t, "caring_companion", elara.Archetype)
	assert.Equal(t, 9, elara.Traits.Warmth)

	seraphina, err := m.Resolve(ctx, "anyone", "seraphina")
	require.NoError(t, err)
	require.NotNil(t, seraphina)
	assert.Equal(t, 9, seraphina.Traits.Flirtatiousness)
}

func TestApplyArchetypeFillsUnsetFields(t *testing.T) {
	p := &store.Personality{Name: "custom", Backstory: "kept"}
	ApplyArchetype(p, "playful_friend")

	assert.Equal(t, "playful_friend", p.Archetype)
	assert.Equal(t, "friend", p.RelationshipType)
	assert.Equal(t, 9, p.Traits.Humor)
	assert.Equal(t, "kept", p.Backstory)
	assert.True(t, p.Behaviors.AsksFollowUps)
}

func TestApplyArchetypeUnknownIsNoop(t *testing.T) {
	p := &store.Personality{Name: "custom"}
	ApplyArchetype(p, "does-not-exist")
	assert.Empty(t, p.Archetype)
	assert.Equal(t, store.PersonalityTraits{}, p.Traits)
}
