package store

import (
	"context"
)

// Relationship tracks accumulated closeness between a user and one
// personality. Unique per (user_id, personality_id).
type Relationship struct {
	UserID             string
	PersonalityID      string
	TotalMessages      int64
	DepthScore         float64 // 0..10
	TrustLevel         float64 // 0..10
	FirstInteractionTs int64
	LastInteractionTs  int64
	Milestones         []string
	PositiveReactions  int64
	NegativeReactions  int64
}

// DaysKnown is derived, not stored.
func (r *Relationship) DaysKnown() int {
	if r.FirstInteractionTs == 0 {
		return 0
	}
	days := (r.LastInteractionTs - r.FirstInteractionTs) / 86400
	if days < 0 {
		return 0
	}
	return int(days)
}

type FindRelationship struct {
	UserID        *string
	PersonalityID *string
}

// UpsertRelationship increments counters and merges fields atomically.
// TotalMessagesDelta and reaction deltas are additive; scores and milestones
// replace when set.
type UpsertRelationship struct {
	UserID                 string
	PersonalityID          string
	TotalMessagesDelta     int64
	PositiveReactionsDelta int64
	NegativeReactionsDelta int64
	DepthScore             *float64
	TrustLevel             *float64
	Milestones             *[]string
	InteractionTs          int64
}

func (s *Store) UpsertRelationship(ctx context.Context, upsert *UpsertRelationship) (*Relationship, error) {
	return s.driver.UpsertRelationship(ctx, upsert)
}

func (s *Store) GetRelationship(ctx context.Context, userID, personalityID string) (*Relationship, error) {
	list, err := s.driver.ListRelationships(ctx, &FindRelationship{UserID: &userID, PersonalityID: &personalityID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListRelationships(ctx context.Context, find *FindRelationship) ([]*Relationship, error) {
	return s.driver.ListRelationships(ctx, find)
}
