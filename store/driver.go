package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Migrate(ctx context.Context) error
	Close() error

	// User model related methods.
	CreateUser(ctx context.Context, create *User) (*User, error)
	EnsureUser(ctx context.Context, externalID string) (*User, error)
	ListUsers(ctx context.Context, find *FindUser) ([]*User, error)
	UpdateUser(ctx context.Context, update *UpdateUser) (*User, error)
	ListRecentlyActiveUsers(ctx context.Context, since int64, limit int) ([]string, error)

	// Personality model related methods.
	CreatePersonality(ctx context.Context, create *Personality) (*Personality, error)
	ListPersonalities(ctx context.Context, find *FindPersonality) ([]*Personality, error)
	UpdatePersonality(ctx context.Context, update *UpdatePersonality) (*Personality, error)
	DeletePersonality(ctx context.Context, delete *DeletePersonality) error

	// Conversation model related methods.
	EnsureConversation(ctx context.Context, ensure *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int64, error)

	// Memory model related methods.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	CreateMemorySuperseding(ctx context.Context, create *Memory, supersededIDs []string) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error)
	SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error
	MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error
	MemoryVectorSearch(ctx context.Context, opts *MemoryVectorSearchOptions) ([]*MemoryWithScore, error)
	DeleteMemories(ctx context.Context, delete *DeleteMemory) (int64, error)

	// Emotion model related methods.
	CreateEmotion(ctx context.Context, create *EmotionEntry) (*EmotionEntry, error)
	ListEmotions(ctx context.Context, find *FindEmotion) ([]*EmotionEntry, error)
	DeleteEmotions(ctx context.Context, delete *DeleteEmotion) (int64, error)

	// Goal model related methods.
	CreateGoal(ctx context.Context, create *Goal) (*Goal, error)
	ListGoals(ctx context.Context, find *FindGoal) ([]*Goal, error)
	UpdateGoal(ctx context.Context, update *UpdateGoal) (*Goal, error)
	DeleteGoal(ctx context.Context, delete *DeleteGoal) error
	CreateGoalProgress(ctx context.Context, create *GoalProgress) (*GoalProgress, error)
	ListGoalProgress(ctx context.Context, find *FindGoalProgress) ([]*GoalProgress, error)

	// Relationship model related methods.
	UpsertRelationship(ctx context.Context, upsert *UpsertRelationship) (*Relationship, error)
	ListRelationships(ctx context.Context, find *FindRelationship) ([]*Relationship, error)

	// Communication preference related methods.
	UpsertUserPreferences(ctx context.Context, upsert *UpsertUserPreferences) (*UserPreferences, error)
	GetUserPreferences(ctx context.Context, find *FindUserPreferences) (*UserPreferences, error)
	DeleteUserPreferences(ctx context.Context, userID string) error

	// API key related methods.
	CreateAPIKey(ctx context.Context, create *APIKey) (*APIKey, error)
	ListAPIKeys(ctx context.Context, find *FindAPIKey) ([]*APIKey, error)
	UpdateAPIKey(ctx context.Context, update *UpdateAPIKey) (*APIKey, error)
}
