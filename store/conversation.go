package store

import (
	"context"
)

// TitleSource indicates how the conversation title was created.
type TitleSource string

const (
	TitleSourceDefault TitleSource = "default"
	TitleSourceAuto    TitleSource = "auto"
	TitleSourceUser    TitleSource = "user"
)

type Conversation struct {
	ID            string
	UserID        string
	PersonalityID string
	Title         string
	TitleSource   TitleSource
	CreatedTs     int64
	UpdatedTs     int64
}

type FindConversation struct {
	ID            *string
	UserID        *string
	PersonalityID *string
	Limit         *int
}

type UpdateConversation struct {
	ID          string
	Title       *string
	TitleSource *TitleSource
	UpdatedTs   *int64
}

type DeleteConversation struct {
	ID string
}

// EnsureConversation idempotently creates the conversation row. Concurrent
// calls with the same id yield exactly one row; the winner's fields stick.
func (s *Store) EnsureConversation(ctx context.Context, ensure *Conversation) (*Conversation, error) {
	return s.driver.EnsureConversation(ctx, ensure)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}
