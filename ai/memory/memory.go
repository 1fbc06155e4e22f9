// Package memory implements the long-term memory subsystem: extraction of
// durable facts from conversation windows, similarity retrieval with
// importance re-ranking, contradiction supersedence at write time, and the
// periodic consolidation job.
package memory

import (
	"context"
	"errors"
	"math"

	"github.com/reveriehq/reverie/store"
)

// Sentinel failure classes. Wrapped errors stay inspectable with errors.Is.
var (
	ErrStorage   = errors.New("memory storage failure")
	ErrRetrieval = errors.New("memory retrieval failure")
)

// Store is the slice of the domain store this package consumes.
type Store interface {
	CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error)
	CreateMemorySuperseding(ctx context.Context, create *store.Memory, supersededIDs []string) (*store.Memory, error)
	ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error)
	UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error)
	MemoryVectorSearch(ctx context.Context, opts *store.MemoryVectorSearchOptions) ([]*store.MemoryWithScore, error)
	MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error
	SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error
	ListRecentlyActiveUsers(ctx context.Context, since int64, limit int) ([]string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scope pins memory operations to one user/personality pair.
type Scope struct {
	UserID         string
	PersonalityID  string
	ConversationID string
}

// cosineSimilarity computes cosine similarity between two vectors, 0 on
// mismatched or empty input.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
