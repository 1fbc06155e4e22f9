package store

import (
	"context"

	"github.com/pkg/errors"
)

type MemoryType string

const (
	MemoryTypeFact       MemoryType = "fact"
	MemoryTypePreference MemoryType = "preference"
	MemoryTypeEvent      MemoryType = "event"
	MemoryTypeContext    MemoryType = "context"
)

// Memory is a durable extracted fact about a user, embedded and
// vector-indexed, scoped by (user_id, personality_id).
type Memory struct {
	ID                  string
	UserID              string
	PersonalityID       string
	ConversationID      string
	Content             string
	Embedding           []float32
	Type                MemoryType
	Category            string
	Importance          float64
	ImportanceBreakdown map[string]float64
	Entities            []string
	AccessCount         int32
	LastAccessedTs      int64
	DecayFactor         float64
	IsActive            bool
	SupersededBy        string
	ConsolidatedFrom    []string
	CreatedTs           int64
	UpdatedTs           int64
}

type FindMemory struct {
	ID             *string
	UserID         *string
	PersonalityID  *string
	ConversationID *string
	Type           *MemoryType
	Category       *string
	IsActive       *bool
	Limit          *int
	Offset         *int
}

type UpdateMemory struct {
	ID               string
	Content          *string
	Embedding        []float32
	Importance       *float64
	DecayFactor      *float64
	Category         *string
	Entities         *[]string
	IsActive         *bool
	SupersededBy     *string
	ConsolidatedFrom *[]string
}

type DeleteMemory struct {
	ConversationID *string
	UserID         *string
	PersonalityID  *string
	// BelowImportance deletes only rows with importance strictly below it.
	BelowImportance *float64
}

// MemoryWithScore is a vector search result with its cosine similarity.
type MemoryWithScore struct {
	Memory *Memory
	Score  float32 // 0-1, higher is more similar
}

// MemoryVectorSearchOptions narrows vector search to one (user, personality)
// scope. Only active memories are searched.
type MemoryVectorSearchOptions struct {
	UserID        string
	PersonalityID string
	Vector        []float32
	Limit         int
	MinSimilarity float64
	Types         []MemoryType // optional type filter
}

// Validate validates the MemoryVectorSearchOptions.
func (o *MemoryVectorSearchOptions) Validate() error {
	if o.UserID == "" {
		return errors.New("user id required")
	}
	if o.PersonalityID == "" {
		return errors.New("personality id required")
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		return errors.Errorf("min similarity out of range: %f", o.MinSimilarity)
	}
	return nil
}

// CreateMemory stores a memory. UserID must be set explicitly; the store
// never infers it from the conversation row.
func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	if create.UserID == "" {
		return nil, errors.New("user id required")
	}
	if create.PersonalityID == "" {
		return nil, errors.New("personality id required")
	}
	if create.Importance < 0 || create.Importance > 1 {
		return nil, errors.Errorf("importance out of range: %f", create.Importance)
	}
	return s.driver.CreateMemory(ctx, create)
}

// CreateMemorySuperseding stores a memory and marks the given older memories
// inactive with superseded_by pointing at the new row, in one transaction.
func (s *Store) CreateMemorySuperseding(ctx context.Context, create *Memory, supersededIDs []string) (*Memory, error) {
	if create.UserID == "" {
		return nil, errors.New("user id required")
	}
	if create.Importance < 0 || create.Importance > 1 {
		return nil, errors.Errorf("importance out of range: %f", create.Importance)
	}
	if len(supersededIDs) == 0 {
		return s.driver.CreateMemory(ctx, create)
	}
	return s.driver.CreateMemorySuperseding(ctx, create, supersededIDs)
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error) {
	return s.driver.UpdateMemory(ctx, update)
}

// SupersedeMemories marks the given memories inactive, pointing at the
// superseding memory.
func (s *Store) SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.driver.SupersedeMemories(ctx, supersededByID, ids)
}

// MarkMemoriesAccessed bumps access_count and last_accessed_ts for the given
// memories. Called after retrieval; feeds decay recomputation.
func (s *Store) MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.driver.MarkMemoriesAccessed(ctx, ids, accessedTs)
}

// MemoryVectorSearch performs cosine similarity search over active memories
// of one (user, personality) scope.
func (s *Store) MemoryVectorSearch(ctx context.Context, opts *MemoryVectorSearchOptions) ([]*MemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.MemoryVectorSearch(ctx, opts)
}

func (s *Store) DeleteMemories(ctx context.Context, delete *DeleteMemory) (int64, error) {
	return s.driver.DeleteMemories(ctx, delete)
}
