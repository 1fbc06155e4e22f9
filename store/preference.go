package store

import (
	"context"
)

// UserPreferences are hard-enforced communication preferences. Empty string
// means unset; upsert merges only the fields that are set.
type UserPreferences struct {
	UserID           string
	Language         string
	Formality        string
	Tone             string
	EmojiUsage       string
	ResponseLength   string
	ExplanationStyle string
	UpdatedTs        int64
}

// Empty reports whether no preference is set.
func (p *UserPreferences) Empty() bool {
	return p.Language == "" && p.Formality == "" && p.Tone == "" &&
		p.EmojiUsage == "" && p.ResponseLength == "" && p.ExplanationStyle == ""
}

type FindUserPreferences struct {
	UserID string
}

type UpsertUserPreferences struct {
	UserID           string
	Language         *string
	Formality        *string
	Tone             *string
	EmojiUsage       *string
	ResponseLength   *string
	ExplanationStyle *string
}

// Empty reports whether the upsert carries no change at all.
func (u *UpsertUserPreferences) Empty() bool {
	return u.Language == nil && u.Formality == nil && u.Tone == nil &&
		u.EmojiUsage == nil && u.ResponseLength == nil && u.ExplanationStyle == nil
}

func (s *Store) UpsertUserPreferences(ctx context.Context, upsert *UpsertUserPreferences) (*UserPreferences, error) {
	return s.driver.UpsertUserPreferences(ctx, upsert)
}

func (s *Store) GetUserPreferences(ctx context.Context, find *FindUserPreferences) (*UserPreferences, error) {
	return s.driver.GetUserPreferences(ctx, find)
}

func (s *Store) DeleteUserPreferences(ctx context.Context, userID string) error {
	return s.driver.DeleteUserPreferences(ctx, userID)
}
