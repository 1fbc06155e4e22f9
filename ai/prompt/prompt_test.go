package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/memory"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/store"
)

func fullInput() Input {
	return Input{
		Personality: &store.Personality{
			Name:             "elara",
			RelationshipType: "companion",
			SpeakingStyle:    "Gentle and attentive.",
			Backstory:        "Grew up in a small coastal town.",
			Traits: store.PersonalityTraits{
				Warmth: 9, Humor: 5, Empathy: 9, Playfulness: 4,
				Assertiveness: 3, Curiosity: 7, Formality: 3, Flirtatiousness: 1,
			},
			Behaviors: store.PersonalityBehaviors{
				InitiatesTopics: true, AsksFollowUps: true,
				RemembersCallbacks: true, AdaptsToMood: true,
			},
		},
		Relationship: &store.Relationship{
			TotalMessages:      120,
			DepthScore:         5.5,
			FirstInteractionTs: 1_000_000,
			LastInteractionTs:  1_000_000 + 30*86400,
		},
		Memories: []memory.Retrieved{
			{Memory: &store.Memory{Type: store.MemoryTypeFact, Content: "Works as a nurse in Lisbon"}},
			{Memory: &store.Memory{Type: store.MemoryTypePreference, Content: "Loves spicy food"}},
		},
		Summary: "They talked through a stressful week at the hospital.",
		Emotion: &analyzers.EmotionResult{Emotion: "sad", Intensity: store.EmotionIntensityHigh},
		RecentEmotions: []*store.EmotionEntry{
			{Emotion: "sad"}, {Emotion: "anxious"}, {Emotion: "tired"},
		},
		Goals: []*store.Goal{
			{ID: "g1", Title: "Run a marathon", Category: "fitness", Progress: 40},
		},
		GoalSignals: []analyzers.GoalSignal{
			{Kind: analyzers.GoalSignalProgress, GoalID: "g1"},
		},
		Preferences: &store.UserPreferences{Language: "french", ResponseLength: "short"},
	}
}

func assertOrdered(t *testing.T, s string, markers ...string) {
	t.Helper()
	last := -1
	for _, marker := range markers {
		idx := strings.Index(s, marker)
		require.GreaterOrEqual(t, idx, 0, "marker %q missing", marker)
		assert.Greater(t, idx, last, "marker %q out of order", marker)
		last = idx
	}
}

func TestBuildSectionOrder(t *testing.T) {
	built := Build(fullInput())

	assertOrdered(t, built,
		"You are Elara, a caring companion to the user.",
		"Things you remember about this user:",
		"Earlier in this conversation:",
		"How to carry yourself:",
		"The user seems sad",
		"The user's active goals:",
		"Hard requirements from the user.",
		"Never reveal",
	)
}

func TestBuildSectionContent(t *testing.T) {
	built := Build(fullInput())

	assert.Contains(t, built, "You have known this user for 30 days across 120 messages.")
	assert.Contains(t, built, "- [fact] Works as a nurse in Lisbon")
	assert.Contains(t, built, "- [preference] Loves spicy food")
	assert.Contains(t, built, "Be openly warm, caring, and affectionate.")
	assert.Contains(t, built, "Do not use pet names.")
	assert.Contains(t, built, "The user seems sad, strongly so right now.")
	assert.Contains(t, built, "mood has trended low")
	assert.Contains(t, built, "- Run a marathon (fitness, 40% along)")
	assert.Contains(t, built, `reported progress on "Run a marathon"`)
	assert.Contains(t, built, "Respond only in French.")
	assert.Contains(t, built, "Keep responses to a few sentences.")
	assert.True(t, strings.HasSuffix(built, generalInstructions))
}

func TestBuildExplicitRouteReplacesEverything(t *testing.T) {
	in := fullInput()
	in.Route = routing.DefaultConfigs()[routing.RouteExplicit]

	built := Build(in)
	assert.Equal(t, in.Route.SystemPrompt, built)
	assert.NotContains(t, built, "Elara")
}

func TestBuildRomanceRouteAppendsSceneGuidance(t *testing.T) {
	in := fullInput()
	in.Route = routing.DefaultConfigs()[routing.RouteRomance]

	built := Build(in)
	assertOrdered(t, built,
		"You are Elara",
		in.Route.SystemPrompt,
		"Things you remember about this user:",
	)
}

func TestBuildMinimalInput(t *testing.T) {
	built := Build(Input{})
	assert.Equal(t, "You are a caring companion to the user.\n\n"+generalInstructions, built)
}

func TestRelationshipFraming(t *testing.T) {
	assert.Contains(t, relationshipFraming(nil), "just meeting")
	assert.Contains(t, relationshipFraming(&store.Relationship{}), "just meeting")

	rel := &store.Relationship{TotalMessages: 12, DepthScore: 1.5}
	framing := relationshipFraming(rel)
	assert.Contains(t, framing, "You have exchanged 12 messages")
	assert.Contains(t, framing, "still getting to know each other")

	rel.DepthScore = 4
	assert.Contains(t, relationshipFraming(rel), "easy familiarity")
	rel.DepthScore = 7.9
	assert.Contains(t, relationshipFraming(rel), "know each other well")
	rel.DepthScore = 9
	assert.Contains(t, relationshipFraming(rel), "long-standing bond")
}

func TestMoodDeclining(t *testing.T) {
	entry := func(emotion string) *store.EmotionEntry { return &store.EmotionEntry{Emotion: emotion} }

	assert.False(t, moodDeclining(nil))
	assert.False(t, moodDeclining([]*store.EmotionEntry{entry("sad"), entry("sad")}))
	assert.True(t, moodDeclining([]*store.EmotionEntry{entry("sad"), entry("anxious"), entry("tired")}))
	assert.False(t, moodDeclining([]*store.EmotionEntry{
		entry("happy"), entry("sad"), entry("excited"), entry("anxious"), entry("happy"),
	}))

	// Entries run newest first; older negatives outside the window do not count.
	assert.False(t, moodDeclining([]*store.EmotionEntry{
		entry("happy"), entry("happy"), entry("happy"), entry("happy"), entry("happy"),
		entry("sad"), entry("sad"), entry("sad"),
	}))
}

func TestEmotionSectionUnknownEmotion(t *testing.T) {
	assert.Empty(t, emotionSection(&analyzers.EmotionResult{Emotion: "confused"}, nil))
}

func TestTraitGuidanceBands(t *testing.T) {
	assert.Equal(t, traitBands["warmth"][0], traitGuidance("warmth", 0))
	assert.Equal(t, traitBands["warmth"][0], traitGuidance("warmth", 3))
	assert.Equal(t, traitBands["warmth"][1], traitGuidance("warmth", 4))
	assert.Equal(t, traitBands["warmth"][1], traitGuidance("warmth", 6))
	assert.Equal(t, traitBands["warmth"][2], traitGuidance("warmth", 7))
	assert.Equal(t, traitBands["warmth"][2], traitGuidance("warmth", 10))
	assert.Empty(t, traitGuidance("charisma", 5))
}

func TestPreferencesSectionPartial(t *testing.T) {
	assert.Empty(t, preferencesSection(nil))
	assert.Empty(t, preferencesSection(&store.UserPreferences{}))

	section := preferencesSection(&store.UserPreferences{Tone: "friendly"})
	assert.Contains(t, section, "Keep your tone friendly.")
	assert.NotContains(t, section, "Respond only in")
}

func TestMessagesExcludesCurrentTurn(t *testing.T) {
	in := Input{}
	history := []buffer.Entry{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hey, good to see you"},
		{Role: "user", Content: "how are you?"},
	}

	messages := Messages(in, history, "how are you?")
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "hi", messages[1].Content)
	assert.Equal(t, "assistant", messages[2].Role)
	assert.Equal(t, "how are you?", messages[3].Content)
	assert.Equal(t, "user", messages[3].Role)
}

func TestMessagesKeepsHistoryNotEndingWithCurrent(t *testing.T) {
	history := []buffer.Entry{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}

	messages := Messages(Input{}, history, "what's new?")
	require.Len(t, messages, 4)
	assert.Equal(t, "hello", messages[2].Content)
	assert.Equal(t, "what's new?", messages[3].Content)
}

func TestMessagesEmptyHistory(t *testing.T) {
	messages := Messages(Input{}, nil, "first message")
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "first message", messages[1].Content)
}
