package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/store"
)

func newPatternExtractor(st *fakeMemoryStore, emb *fakeEmbedder, config ExtractorConfig) *Extractor {
	if config.Strategy == "" {
		config.Strategy = "pattern"
	}
	w := NewWriter(st, NewDetector(nil, DetectorConfig{Strategy: "pattern"}))
	return NewExtractor(st, emb, w, nil, config)
}

func userTurn(content string) buffer.Entry {
	return buffer.Entry{Role: "user", Content: content}
}

func assistantTurn(content string) buffer.Entry {
	return buffer.Entry{Role: "assistant", Content: content}
}

func TestExtractAndStoreGatesOnMinTurns(t *testing.T) {
	st := newFakeMemoryStore()
	e := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{})

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I love hiking"),
		assistantTurn("That sounds wonderful!"),
	})
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Zero(t, st.activeCount())
}

func TestExtractAndStoreTrimsToWindow(t *testing.T) {
	st := newFakeMemoryStore()
	turns := []buffer.Entry{
		userTurn("I love hiking"),
		userTurn("the weather is nice here"),
		userTurn("the trail was muddy though"),
		userTurn("the view made up for it"),
	}

	e := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{MinTurns: 2, WindowSize: 3})
	stored, err := e.ExtractAndStore(context.Background(), testScope, turns)
	require.NoError(t, err)
	assert.Zero(t, stored, "the only marker turn falls outside the window")

	wide := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{MinTurns: 2, WindowSize: 10})
	stored, err = wide.ExtractAndStore(context.Background(), testScope, turns)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
}

func TestPatternExtractTypesAndImportance(t *testing.T) {
	e := newPatternExtractor(newFakeMemoryStore(), newFakeEmbedder(), ExtractorConfig{})

	got := e.patternExtract([]buffer.Entry{
		userTurn("What do you think about me?"),
		assistantTurn("I live in your heart"),
		userTurn("I love spicy food"),
		userTurn("I work as a nurse in Lisbon"),
		userTurn("Yesterday I went to a concert"),
		userTurn("I love spicy ramen so much"),
	})
	require.Len(t, got, 4)

	assert.Equal(t, store.MemoryTypePreference, got[0].Type)
	assert.InDelta(t, 0.65, got[0].Importance, 1e-9)

	assert.Equal(t, store.MemoryTypeFact, got[1].Type)
	assert.InDelta(t, 0.6, got[1].Importance, 1e-9)

	assert.Equal(t, store.MemoryTypeEvent, got[2].Type)
	assert.InDelta(t, 0.5, got[2].Importance, 1e-9)

	// "so much" lifts the preference score.
	assert.Equal(t, store.MemoryTypePreference, got[3].Type)
	assert.InDelta(t, 0.75, got[3].Importance, 1e-9)
}

func TestPatternExtractSkipsQuestionsAndAssistant(t *testing.T) {
	e := newPatternExtractor(newFakeMemoryStore(), newFakeEmbedder(), ExtractorConfig{})

	got := e.patternExtract([]buffer.Entry{
		userTurn("do you like my favorite songs?"),
		userTurn("i love you right?"),
		assistantTurn("I love talking with you"),
	})
	assert.Empty(t, got)
}

func TestPatternExtractDedupesFoldedContent(t *testing.T) {
	e := newPatternExtractor(newFakeMemoryStore(), newFakeEmbedder(), ExtractorConfig{})

	got := e.patternExtract([]buffer.Entry{
		userTurn("I love hiking"),
		userTurn("i  love   HIKING"),
	})
	assert.Len(t, got, 1)
}

func TestPatternExtractHonorsCap(t *testing.T) {
	e := newPatternExtractor(newFakeMemoryStore(), newFakeEmbedder(), ExtractorConfig{MaxCandidates: 2})

	got := e.patternExtract([]buffer.Entry{
		userTurn("I love tea"),
		userTurn("I love coffee"),
		userTurn("I love cocoa"),
		userTurn("I love juice"),
	})
	assert.Len(t, got, 2)
}

func TestParseCandidates(t *testing.T) {
	e := newPatternExtractor(newFakeMemoryStore(), newFakeEmbedder(), ExtractorConfig{})

	t.Run("fenced response with prose", func(t *testing.T) {
		got := e.parseCandidates("Here's what I found:\n```json\n[{\"content\": \"User lives in Lisbon\", \"type\": \"fact\", \"importance\": 0.8}]\n```")
		require.Len(t, got, 1)
		assert.Equal(t, "User lives in Lisbon", got[0].Content)
	})

	t.Run("drops invalid types and low importance, clamps high", func(t *testing.T) {
		got := e.parseCandidates(`[
			{"content": "User hates small talk", "type": "opinion", "importance": 0.9},
			{"content": "User said hello", "type": "fact", "importance": 0.1},
			{"content": "User is a pilot", "type": "fact", "importance": 1.5}
		]`)
		require.Len(t, got, 1)
		assert.Equal(t, "User is a pilot", got[0].Content)
		assert.InDelta(t, 1.0, got[0].Importance, 1e-9)
	})

	t.Run("not json at all", func(t *testing.T) {
		assert.Nil(t, e.parseCandidates("I could not find anything."))
	})

	t.Run("caps at max candidates", func(t *testing.T) {
		got := e.parseCandidates(`[
			{"content": "a1", "type": "fact", "importance": 0.5},
			{"content": "a2", "type": "fact", "importance": 0.5},
			{"content": "a3", "type": "fact", "importance": 0.5},
			{"content": "a4", "type": "fact", "importance": 0.5},
			{"content": "a5", "type": "fact", "importance": 0.5},
			{"content": "a6", "type": "fact", "importance": 0.5}
		]`)
		assert.Len(t, got, 5)
	})
}

func TestExtractAndStoreLLMStrategy(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	fake := &fakeLLM{responses: []string{`[
		{"content": "User lives in Lisbon", "type": "fact", "importance": 0.8},
		{"content": "User loves surfing", "type": "preference", "importance": 0.7}
	]`}}
	w := NewWriter(st, NewDetector(nil, DetectorConfig{Strategy: "pattern"}))
	e := NewExtractor(st, emb, w, fake, ExtractorConfig{Strategy: "llm"})

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("hey!"),
		assistantTurn("hello there"),
		userTurn("I moved to Lisbon for the surfing"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, fake.calls)

	rows, err := st.ListMemories(context.Background(), &store.FindMemory{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "u1", row.UserID)
		assert.Equal(t, "p1", row.PersonalityID)
		assert.Equal(t, "c1", row.ConversationID)
		assert.NotEmpty(t, row.Embedding)
	}
}

func TestExtractAndStoreNothingWorthKeeping(t *testing.T) {
	st := newFakeMemoryStore()
	fake := &fakeLLM{} // empty response list answers "[]"
	w := NewWriter(st, NewDetector(nil, DetectorConfig{Strategy: "pattern"}))
	e := NewExtractor(st, newFakeEmbedder(), w, fake, ExtractorConfig{Strategy: "llm"})

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("hi"), assistantTurn("hi!"), userTurn("how are you?"),
	})
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Zero(t, st.activeCount())
}

func TestExtractAndStoreHybridFallsBackToPattern(t *testing.T) {
	st := newFakeMemoryStore()
	fake := &fakeLLM{err: errors.New("backend down")}
	w := NewWriter(st, NewDetector(nil, DetectorConfig{Strategy: "pattern"}))
	e := NewExtractor(st, newFakeEmbedder(), w, fake, ExtractorConfig{Strategy: "hybrid"})

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I love hiking"),
		assistantTurn("Tell me more!"),
		userTurn("the trails near me are great"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, fake.calls)
}

func TestExtractAndStoreSkipsNearDuplicates(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.set("I love hiking", basisVector(0))
	emb.set("I work as a ranger", basisVector(1))
	st.seed(&store.Memory{
		UserID: "u1", PersonalityID: "p1",
		Content: "User loves hiking", Type: store.MemoryTypePreference,
		Embedding: basisVector(0), Importance: 0.7,
	})

	e := newPatternExtractor(st, emb, ExtractorConfig{})
	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I love hiking"),
		assistantTurn("Nice!"),
		userTurn("I work as a ranger"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stored, "the hiking candidate matches the seeded memory")
	assert.Equal(t, 2, st.activeCount())
}

func TestExtractAndStoreWrapsEmbedFailure(t *testing.T) {
	st := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.fail = errors.New("embedding service down")

	e := newPatternExtractor(st, emb, ExtractorConfig{})
	_, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I love hiking"),
		assistantTurn("Nice!"),
		userTurn("I work as a ranger"),
	})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestExtractAndStoreCategorizesMemories(t *testing.T) {
	st := newFakeMemoryStore()
	e := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{MinTurns: 2}).
		WithCategorizer(analyzers.NewCategorizer(nil, analyzers.CategorizerConfig{Strategy: "pattern"}))

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I work as a nurse in Lisbon"),
		assistantTurn("That must be demanding."),
	})
	require.NoError(t, err)
	require.Equal(t, 1, stored)

	mem := st.get("m1")
	require.NotNil(t, mem)
	assert.Equal(t, "work", mem.Category)
	assert.Contains(t, mem.Entities, "Lisbon")
}

func TestExtractAndStoreWithoutCategorizer(t *testing.T) {
	st := newFakeMemoryStore()
	e := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{MinTurns: 2})

	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I work as a nurse in Lisbon"),
		assistantTurn("That must be demanding."),
	})
	require.NoError(t, err)
	require.Equal(t, 1, stored)

	mem := st.get("m1")
	require.NotNil(t, mem)
	assert.Empty(t, mem.Category)
	assert.Empty(t, mem.Entities)
}

func TestExtractAndStoreStoresDespiteDedupFailure(t *testing.T) {
	st := newFakeMemoryStore()
	st.failSearch = errors.New("db hiccup")

	e := newPatternExtractor(st, newFakeEmbedder(), ExtractorConfig{})
	stored, err := e.ExtractAndStore(context.Background(), testScope, []buffer.Entry{
		userTurn("I love hiking"),
		assistantTurn("Nice!"),
		userTurn("I work as a ranger"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
}
