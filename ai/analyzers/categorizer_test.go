package analyzers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternCategorize(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"work", "got a promotion after the big project shipped", "work"},
		{"health", "allergic to penicillin", "health"},
		{"finance", "saving for a house, rent is brutal", "finance"},
		{"travel", "planning a trip to Portugal", "travel"},
		{"fallback", "usually wakes up before sunrise", "daily_life"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := patternCategorize(tt.content)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Category)
		})
	}
}

func TestPatternCategorizeOrderPrefersSpecific(t *testing.T) {
	// "sister" hits relationships and "restaurant" hits food; food sits
	// earlier in the table so it wins.
	got := patternCategorize("my sister took me to a thai restaurant")
	assert.Equal(t, "food", got.Category)

	got = patternCategorize("watched a horror movie with my girlfriend")
	assert.Equal(t, "entertainment", got.Category)
}

func TestExtractEntitiesProperNouns(t *testing.T) {
	got := extractEntities("met Sofia in Paris on 2025-06-14")
	assert.Equal(t, []string{"Sofia", "Paris", "2025-06-14"}, got)
}

func TestExtractEntitiesTrimsStoplistedLead(t *testing.T) {
	// "User Anna" is one capitalized run; the stoplisted lead word goes,
	// the name stays.
	got := extractEntities("User Anna moved to Lisbon last may")
	assert.Equal(t, []string{"Anna", "Lisbon", "may"}, got)
}

func TestExtractEntitiesModalMayIsNotADate(t *testing.T) {
	got := extractEntities("Anna may visit Tokyo")
	assert.Equal(t, []string{"Anna", "Tokyo"}, got)
}

func TestExtractEntitiesMonthWithDay(t *testing.T) {
	got := extractEntities("wedding anniversary every june 14")
	assert.Equal(t, []string{"june 14"}, got)
}

func TestExtractEntitiesDedupes(t *testing.T) {
	got := extractEntities("Anna said Anna prefers tea")
	assert.Equal(t, []string{"Anna"}, got)
}

func TestExtractEntitiesCap(t *testing.T) {
	got := extractEntities("invited Ana, Bob, Cal, Dan, Eva, Fay, Gus, Hal, Ivy to dinner")
	assert.Len(t, got, maxEntities)
	assert.NotContains(t, got, "Ivy")
}

func TestCategorizerLLM(t *testing.T) {
	ctx := context.Background()

	t.Run("valid result passes through", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"category": "Travel", "entities": ["Kyoto", "Japan"]}`}}
		c := NewCategorizer(fake, CategorizerConfig{Strategy: StrategyLLM})
		got, err := c.Categorize(ctx, "spent two weeks in Kyoto")
		require.NoError(t, err)
		assert.Equal(t, "travel", got.Category)
		assert.Equal(t, []string{"Kyoto", "Japan"}, got.Entities)
	})

	t.Run("unknown category becomes daily_life", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"category": "opinions", "entities": []}`}}
		c := NewCategorizer(fake, CategorizerConfig{Strategy: StrategyLLM})
		got, err := c.Categorize(ctx, "thinks pineapple belongs on pizza")
		require.NoError(t, err)
		assert.Equal(t, "daily_life", got.Category)
	})

	t.Run("entities capped", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"category": "work", "entities": ["a","b","c","d","e","f","g","h","i","j"]}`}}
		c := NewCategorizer(fake, CategorizerConfig{Strategy: StrategyLLM})
		got, err := c.Categorize(ctx, "knows half the office by name")
		require.NoError(t, err)
		assert.Len(t, got.Entities, maxEntities)
	})

	t.Run("garbage response is an error", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"no json here"}}
		c := NewCategorizer(fake, CategorizerConfig{Strategy: StrategyLLM})
		_, err := c.Categorize(ctx, "anything")
		require.Error(t, err)
	})
}

func TestCategorizerHybridFallsBack(t *testing.T) {
	fake := &fakeLLM{err: errors.New("backend down")}
	c := NewCategorizer(fake, CategorizerConfig{Strategy: StrategyHybrid})

	got, err := c.Categorize(context.Background(), "pulled an all-nighter before the exam")
	require.NoError(t, err)
	assert.Equal(t, "education", got.Category)
	assert.Equal(t, 1, fake.calls)
}

func TestCategorizerWithoutLLMUsesPattern(t *testing.T) {
	c := NewCategorizer(nil, CategorizerConfig{Strategy: StrategyLLM})
	got, err := c.Categorize(context.Background(), "booked a flight to Oslo")
	require.NoError(t, err)
	assert.Equal(t, "travel", got.Category)
	assert.Contains(t, got.Entities, "Oslo")
}
