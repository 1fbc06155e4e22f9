package store

import (
	"context"
)

// PersonalityTraits are integer scales 0..10 describing how the persona
// speaks and behaves. The prompt builder translates them into prose.
type PersonalityTraits struct {
	Warmth          int `json:"warmth"`
	Humor           int `json:"humor"`
	Empathy         int `json:"empathy"`
	Playfulness     int `json:"playfulness"`
	Assertiveness   int `json:"assertiveness"`
	Curiosity       int `json:"curiosity"`
	Formality       int `json:"formality"`
	Flirtatiousness int `json:"flirtatiousness"`
}

// PersonalityBehaviors are on/off conversational habits.
type PersonalityBehaviors struct {
	InitiatesTopics    bool `json:"initiates_topics"`
	AsksFollowUps      bool `json:"asks_follow_ups"`
	UsesPetNames       bool `json:"uses_pet_names"`
	RemembersCallbacks bool `json:"remembers_callbacks"`
	AdaptsToMood       bool `json:"adapts_to_mood"`
}

type Personality struct {
	ID                 string
	OwnerUserID        string
	Name               string
	Archetype          string
	RelationshipType   string
	Traits             PersonalityTraits
	Behaviors          PersonalityBehaviors
	Backstory          string
	CustomInstructions string
	SpeakingStyle      string
	Version            int32
	CreatedTs          int64
	UpdatedTs          int64
}

type FindPersonality struct {
	ID          *string
	OwnerUserID *string
	Name        *string
}

type UpdatePersonality struct {
	ID                 string
	Archetype          *string
	RelationshipType   *string
	Traits             *PersonalityTraits
	Behaviors          *PersonalityBehaviors
	Backstory          *string
	CustomInstructions *string
	SpeakingStyle      *string
}

type DeletePersonality struct {
	ID string
}

func (s *Store) CreatePersonality(ctx context.Context, create *Personality) (*Personality, error) {
	personality, err := s.driver.CreatePersonality(ctx, create)
	if err != nil {
		return nil, err
	}
	s.personalityCache.Set(personality.ID, personality)
	return personality, nil
}

func (s *Store) GetPersonality(ctx context.Context, id string) (*Personality, error) {
	if v, ok := s.personalityCache.Get(id); ok {
		if personality, ok := v.(*Personality); ok {
			return personality, nil
		}
	}
	list, err := s.driver.ListPersonalities(ctx, &FindPersonality{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.personalityCache.Set(id, list[0])
	return list[0], nil
}

// ResolvePersonality finds a personality by name, checking the user's own
// personalities first and falling back to the global set.
func (s *Store) ResolvePersonality(ctx context.Context, userID, name string) (*Personality, error) {
	list, err := s.driver.ListPersonalities(ctx, &FindPersonality{OwnerUserID: &userID, Name: &name})
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		return list[0], nil
	}

	systemUserID, err := s.SystemUserID(ctx)
	if err != nil {
		return nil, err
	}
	list, err = s.driver.ListPersonalities(ctx, &FindPersonality{OwnerUserID: &systemUserID, Name: &name})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListPersonalities(ctx context.Context, find *FindPersonality) ([]*Personality, error) {
	return s.driver.ListPersonalities(ctx, find)
}

func (s *Store) UpdatePersonality(ctx context.Context, update *UpdatePersonality) (*Personality, error) {
	personality, err := s.driver.UpdatePersonality(ctx, update)
	if err != nil {
		return nil, err
	}
	s.personalityCache.Delete(update.ID)
	return personality, nil
}

func (s *Store) DeletePersonality(ctx context.Context, delete *DeletePersonality) error {
	if err := s.driver.DeletePersonality(ctx, delete); err != nil {
		return err
	}
	s.personalityCache.Delete(delete.ID)
	return nil
}
