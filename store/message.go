package store

import (
	"context"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one turn half in the append-only transcript. It is independent
// of the bounded short-term buffer.
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	CreatedTs      int64
}

type FindMessage struct {
	ConversationID *string
	Limit          *int
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	return s.driver.CountMessages(ctx, conversationID)
}
