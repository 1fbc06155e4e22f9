package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/store"
)

var testScope = Scope{UserID: "u1", PersonalityID: "p1", ConversationID: "c1"}

func TestRetrieveRanksBySimilarityTimesImportance(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	ctx := context.Background()

	// Query vector sits on axis 0. Axis-0 rows are exact hits, the mixed
	// row is a partial hit.
	emb.set("what do i like", basisVector(0))
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User loves hiking in the alps",
		Embedding: basisVector(0), Importance: 0.5,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User owns a golden retriever",
		Embedding: basisVector(0), Importance: 0.9,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User drinks oat milk",
		Embedding: []float32{0.7, 0.714, 0, 0, 0, 0, 0, 0}, Importance: 1.0,
	})

	r := NewRetriever(st, emb, RetrieverConfig{})
	got, err := r.Retrieve(ctx, testScope, "what do i like")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// similarity*importance: retriever=0.9, oat milk=~0.7, hiking=0.5.
	assert.Equal(t, "User owns a golden retriever", got[0].Memory.Content)
	assert.Equal(t, "User drinks oat milk", got[1].Memory.Content)
	assert.Equal(t, "User loves hiking in the alps", got[2].Memory.Content)
	assert.Greater(t, got[0].Combined, got[1].Combined)
}

func TestRetrieveDedupsNearIdenticalContent(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.set("q", basisVector(0))

	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User Lives In   Lisbon Portugal",
		Embedding: basisVector(0), Importance: 0.9,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "user lives in lisbon portugal",
		Embedding: basisVector(0), Importance: 0.8,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User lives in Lisbon Portugal near the coast",
		Embedding: basisVector(0), Importance: 0.7,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User plays chess",
		Embedding: basisVector(0), Importance: 0.6,
	})

	r := NewRetriever(st, emb, RetrieverConfig{})
	got, err := r.Retrieve(context.Background(), testScope, "q")
	require.NoError(t, err)

	// Case-folded exact dup folds; the longer containment variant folds;
	// the unrelated memory stays.
	require.Len(t, got, 2)
	assert.Equal(t, "User Lives In   Lisbon Portugal", got[0].Memory.Content)
	assert.Equal(t, "User plays chess", got[1].Memory.Content)
}

func TestRetrieveShortContainmentDoesNotFold(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.set("q", basisVector(0))

	// "likes tea" is contained in the longer string but is too short to
	// count as a containment duplicate.
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User likes tea with honey in the evening",
		Embedding: basisVector(0), Importance: 0.9,
	})
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "likes tea",
		Embedding: basisVector(0), Importance: 0.8,
	})

	r := NewRetriever(st, emb, RetrieverConfig{})
	got, err := r.Retrieve(context.Background(), testScope, "q")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieveHonorsTopK(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.set("q", basisVector(0))
	for i := 0; i < 8; i++ {
		st.seed(&store.Memory{
			UserID: "u1", PersonalityID: "p1",
			Content:   "User fact number " + string(rune('a'+i)),
			Embedding: basisVector(0), Importance: 0.5,
		})
	}

	r := NewRetriever(st, emb, RetrieverConfig{TopK: 2})
	got, err := r.Retrieve(context.Background(), testScope, "q")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieveBumpsAccessCounts(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.set("q", basisVector(0))
	seeded := st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1", Content: "User is vegetarian",
		Embedding: basisVector(0), Importance: 0.8,
	})

	r := NewRetriever(st, emb, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), testScope, "q")
	require.NoError(t, err)

	assert.Equal(t, []string{seeded.ID}, st.accessedIDs)
	assert.EqualValues(t, 1, st.get(seeded.ID).AccessCount)
	assert.NotZero(t, st.get(seeded.ID).LastAccessedTs)
}

func TestRetrieveEmptyResult(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()

	r := NewRetriever(st, emb, RetrieverConfig{})
	got, err := r.Retrieve(context.Background(), testScope, "anything")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, st.accessedIDs)
}

func TestRetrieveWrapsFailures(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.fail = errors.New("embedding backend down")

	r := NewRetriever(st, emb, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), testScope, "q")
	assert.ErrorIs(t, err, ErrRetrieval)

	emb.fail = nil
	st.failSearch = errors.New("db down")
	_, err = r.Retrieve(context.Background(), testScope, "q")
	assert.ErrorIs(t, err, ErrRetrieval)
}
