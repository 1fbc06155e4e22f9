package store

import (
	"context"
)

type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusPaused    GoalStatus = "paused"
	GoalStatusAbandoned GoalStatus = "abandoned"
)

type GoalProgressType string

const (
	GoalProgressMention    GoalProgressType = "mention"
	GoalProgressUpdate     GoalProgressType = "update"
	GoalProgressMilestone  GoalProgressType = "milestone"
	GoalProgressSetback    GoalProgressType = "setback"
	GoalProgressCompletion GoalProgressType = "completion"
)

type Goal struct {
	ID               string
	UserID           string
	Title            string
	Description      string
	Category         string
	Status           GoalStatus
	Progress         float64 // 0..100
	TargetDateTs     int64
	CompletedTs      int64
	LastMentionedTs  int64
	MentionCount     int32
	CheckInFrequency string
	LastCheckInTs    int64
	Milestones       []string
	ProgressNotes    []string
	Motivation       string
	Obstacles        []string
	CreatedTs        int64
	UpdatedTs        int64
}

type FindGoal struct {
	ID     *string
	UserID *string
	Status *GoalStatus
	Limit  *int
}

type UpdateGoal struct {
	ID               string
	Title            *string
	Description      *string
	Category         *string
	Status           *GoalStatus
	Progress         *float64
	TargetDateTs     *int64
	CompletedTs      *int64
	LastMentionedTs  *int64
	MentionCount     *int32
	CheckInFrequency *string
	LastCheckInTs    *int64
	Milestones       *[]string
	ProgressNotes    *[]string
	Motivation       *string
	Obstacles        *[]string
}

type DeleteGoal struct {
	ID string
}

// GoalProgress is one progress event against a goal.
type GoalProgress struct {
	ID             string
	GoalID         string
	UserID         string
	Type           GoalProgressType
	Content        string
	Delta          float64
	Sentiment      string
	Emotion        string
	ConversationID string
	CreatedTs      int64
}

type FindGoalProgress struct {
	GoalID *string
	UserID *string
	Limit  *int
}

func (s *Store) CreateGoal(ctx context.Context, create *Goal) (*Goal, error) {
	return s.driver.CreateGoal(ctx, create)
}

func (s *Store) GetGoal(ctx context.Context, id string) (*Goal, error) {
	list, err := s.driver.ListGoals(ctx, &FindGoal{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListGoals(ctx context.Context, find *FindGoal) ([]*Goal, error) {
	return s.driver.ListGoals(ctx, find)
}

func (s *Store) UpdateGoal(ctx context.Context, update *UpdateGoal) (*Goal, error) {
	return s.driver.UpdateGoal(ctx, update)
}

func (s *Store) DeleteGoal(ctx context.Context, delete *DeleteGoal) error {
	return s.driver.DeleteGoal(ctx, delete)
}

func (s *Store) CreateGoalProgress(ctx context.Context, create *GoalProgress) (*GoalProgress, error) {
	return s.driver.CreateGoalProgress(ctx, create)
}

func (s *Store) ListGoalProgress(ctx context.Context, find *FindGoalProgress) ([]*GoalProgress, error) {
	return s.driver.ListGoalProgress(ctx, find)
}
