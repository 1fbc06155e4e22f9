package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/store"
)

func TestConsolidatorExactPassKeepsNewest(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	oldest := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 100,
	})
	newest := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "user  LOVES   coffee",
		Type: store.MemoryTypePreference, CreatedTs: 300,
	})
	middle := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.UsersProcessed)
	assert.Equal(t, 2, report.ExactMerged)
	assert.Zero(t, report.SemanticMerged)

	assert.True(t, st.get(newest.ID).IsActive)
	for _, loser := range []string{oldest.ID, middle.ID} {
		row := st.get(loser)
		assert.False(t, row.IsActive)
		assert.Equal(t, newest.ID, row.SupersededBy)
	}
}

func TestConsolidatorExactPassScopedByPersonality(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 100,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p2", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.ExactMerged)
	assert.Equal(t, 2, st.activeCount())
}

func TestConsolidatorSemanticPassKeepsHigherImportance(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	strong := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.9, CreatedTs: 100,
	})
	weak := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User adores coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.ExactMerged)
	assert.Equal(t, 1, report.SemanticMerged)

	assert.True(t, st.get(strong.ID).IsActive)
	weakRow := st.get(weak.ID)
	assert.False(t, weakRow.IsActive)
	assert.Equal(t, strong.ID, weakRow.SupersededBy)
}

func TestConsolidatorSemanticTieGoesToNewer(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	older := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 100,
	})
	newer := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User adores coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, st.get(newer.ID).IsActive)
	assert.False(t, st.get(older.ID).IsActive)
}

func TestConsolidatorSemanticScopedByTypeAndPersonality(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	// Same vector, different type.
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 100,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User drinks coffee daily",
		Type: store.MemoryTypeFact, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 200,
	})
	// Same vector and type, different personality.
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p2", Content: "User adores coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 300,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.SemanticMerged)
	assert.Equal(t, 3, st.activeCount())
}

func TestConsolidatorBelowThresholdNotMerged(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, Embedding: basisVector(0),
		Importance: 0.5, CreatedTs: 100,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves rainy mornings",
		Type: store.MemoryTypePreference, Embedding: basisVector(1),
		Importance: 0.5, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.SemanticMerged)
	assert.Equal(t, 2, st.activeCount())
}

func TestConsolidatorIsIdempotent(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}

	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 100,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.ExactMerged)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.ExactMerged)
	assert.Zero(t, second.SemanticMerged)
	assert.Equal(t, 1, st.activeCount())
}

func TestConsolidatorHonorsMaxUsersPerRun(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1", "u2", "u3"}

	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 100,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves coffee",
		Type: store.MemoryTypePreference, CreatedTs: 200,
	})

	c := NewConsolidator(st, ConsolidatorConfig{MaxUsersPerRun: 2})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.UsersProcessed)
	assert.Equal(t, 1, report.ExactMerged)
}

func TestConsolidatorWrapsListUsersFailure(t *testing.T) {
	st := newFakeMemoryStore()
	st.failListUsers = errors.New("db down")

	c := NewConsolidator(st, ConsolidatorConfig{})
	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
}

func TestConsolidatorDecaysStaleMemories(t *testing.T) {
	st := newFakeMemoryStore()
	st.recentUsers = []string{"u1"}
	now := time.Now().Unix()

	stale := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User used to play chess",
		Type: store.MemoryTypeFact, CreatedTs: now - int64(200*24*time.Hour/time.Second),
		DecayFactor: 1.0,
	})
	fresh := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User lives in Lisbon",
		Type: store.MemoryTypeFact, CreatedTs: now - int64(24*time.Hour/time.Second),
		LastAccessedTs: now, DecayFactor: 1.0,
	})
	ancient := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User once owned a hamster",
		Type: store.MemoryTypeFact, CreatedTs: now - int64(5*365*24*time.Hour/time.Second),
		DecayFactor: 1.0,
	})

	c := NewConsolidator(st, ConsolidatorConfig{})
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Decayed)
	assert.Less(t, st.get(stale.ID).DecayFactor, 1.0)
	assert.Greater(t, st.get(stale.ID).DecayFactor, 0.1)
	assert.Equal(t, 1.0, st.get(fresh.ID).DecayFactor)
	assert.Equal(t, 0.1, st.get(ancient.ID).DecayFactor, "decay bottoms out at the floor")

	// Rerunning without new accesses changes nothing material.
	again, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Decayed)
}
