package analyzers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/store"
)

func TestPatternEmotion(t *testing.T) {
	tests := []struct {
		name          string
		message       string
		wantEmotion   string
		wantIntensity store.EmotionIntensity
	}{
		{"single sad cue", "been feeling sad since monday", "sad", store.EmotionIntensityLow},
		{"anxious with intensifier", "I'm so stressed about the interview", "anxious", store.EmotionIntensityMedium},
		{"angry with exclamations", "I'm furious, they cancelled on me again!!", "angry", store.EmotionIntensityHigh},
		{"two cues read stronger", "I'm exhausted and burned out", "tired", store.EmotionIntensityMedium},
		{"affectionate", "I miss you, been thinking of you all day", "affectionate", store.EmotionIntensityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := patternEmotion(tt.message, DefaultEmotionConfidence)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantEmotion, got.Emotion)
			assert.Equal(t, tt.wantIntensity, got.Intensity)
			assert.GreaterOrEqual(t, got.Confidence, DefaultEmotionConfidence)
			assert.NotEmpty(t, got.Indicators)
		})
	}
}

func TestPatternEmotionNilOnNeutralText(t *testing.T) {
	for _, message := range []string{
		"can you recommend a book about rome?",
		"the meeting moved to 3pm",
	} {
		assert.Nil(t, patternEmotion(message, DefaultEmotionConfidence), "message: %s", message)
	}
}

func TestPatternEmotionConfidenceGrowsWithHits(t *testing.T) {
	one := patternEmotion("I'm worried", DefaultEmotionConfidence)
	two := patternEmotion("I'm worried and stressed", DefaultEmotionConfidence)
	require.NotNil(t, one)
	require.NotNil(t, two)
	assert.Greater(t, two.Confidence, one.Confidence)
}

func TestEmotionDetectorLLM(t *testing.T) {
	ctx := context.Background()

	t.Run("parses detection", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{
			`{"emotion": "Lonely", "confidence": 0.8, "intensity": "high", "indicators": ["no one to talk to"]}`,
		}}
		d := NewEmotionDetector(fake, EmotionConfig{Strategy: StrategyLLM})
		got, err := d.Detect(ctx, "nobody ever calls me anymore")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "lonely", got.Emotion)
		assert.Equal(t, store.EmotionIntensityHigh, got.Intensity)
	})

	t.Run("none maps to nil", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"emotion": "none", "confidence": 0.9}`}}
		d := NewEmotionDetector(fake, EmotionConfig{Strategy: StrategyLLM})
		got, err := d.Detect(ctx, "the meeting moved to 3pm")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("below threshold maps to nil", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"emotion": "sad", "confidence": 0.2, "intensity": "low"}`}}
		d := NewEmotionDetector(fake, EmotionConfig{Strategy: StrategyLLM})
		got, err := d.Detect(ctx, "eh")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("bogus intensity defaults to medium", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{"emotion": "happy", "confidence": 0.7, "intensity": "extreme"}`}}
		d := NewEmotionDetector(fake, EmotionConfig{Strategy: StrategyLLM})
		got, err := d.Detect(ctx, "today was good")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, store.EmotionIntensityMedium, got.Intensity)
	})
}

func TestEmotionDetectorHybridFallsBack(t *testing.T) {
	fake := &fakeLLM{err: errors.New("backend down")}
	d := NewEmotionDetector(fake, EmotionConfig{Strategy: StrategyHybrid})

	got, err := d.Detect(context.Background(), "I'm so stressed about everything")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anxious", got.Emotion)
	assert.Equal(t, 1, fake.calls)
}
