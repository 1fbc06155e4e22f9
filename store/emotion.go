package store

import (
	"context"
)

type EmotionIntensity string

const (
	EmotionIntensityLow    EmotionIntensity = "low"
	EmotionIntensityMedium EmotionIntensity = "medium"
	EmotionIntensityHigh   EmotionIntensity = "high"
)

// EmotionEntry is one detected emotion, kept for trend analysis.
type EmotionEntry struct {
	ID             string
	UserID         string
	ConversationID string
	Emotion        string
	Confidence     float64
	Intensity      EmotionIntensity
	Indicators     []string
	MessageSnippet string // truncated to 100 chars on write
	CreatedTs      int64
}

type FindEmotion struct {
	UserID         *string
	ConversationID *string
	Emotion        *string
	Since          *int64
	Limit          *int
}

type DeleteEmotion struct {
	UserID *string
}

func (s *Store) CreateEmotion(ctx context.Context, create *EmotionEntry) (*EmotionEntry, error) {
	if runes := []rune(create.MessageSnippet); len(runes) > 100 {
		create.MessageSnippet = string(runes[:100])
	}
	return s.driver.CreateEmotion(ctx, create)
}

func (s *Store) ListEmotions(ctx context.Context, find *FindEmotion) ([]*EmotionEntry, error) {
	return s.driver.ListEmotions(ctx, find)
}

func (s *Store) DeleteEmotions(ctx context.Context, delete *DeleteEmotion) (int64, error) {
	return s.driver.DeleteEmotions(ctx, delete)
}
