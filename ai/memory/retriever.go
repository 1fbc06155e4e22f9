package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/reveriehq/reverie/store"
)

const (
	// DefaultTopK is how many memories a retrieval returns.
	DefaultTopK = 5

	// DefaultMinSimilarity is the vector search floor.
	DefaultMinSimilarity = 0.2

	// containmentMinLen is the shortest string that participates in
	// containment de-duplication. Below it, substring hits are noise.
	containmentMinLen = 20
)

// Retrieved is one ranked retrieval result.
type Retrieved struct {
	Memory     *store.Memory
	Similarity float64
	// Combined is similarity scaled by stored importance; the ranking key.
	Combined float64
}

// RetrieverConfig tunes retrieval. Zero values take defaults.
type RetrieverConfig struct {
	TopK          int
	MinSimilarity float64
}

// Retriever finds the memories most relevant to the current user message.
type Retriever struct {
	store    Store
	embedder Embedder
	topK     int
	minSim   float64
}

func NewRetriever(st Store, embedder Embedder, config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.MinSimilarity <= 0 {
		config.MinSimilarity = DefaultMinSimilarity
	}
	return &Retriever{
		store:    st,
		embedder: embedder,
		topK:     config.TopK,
		minSim:   config.MinSimilarity,
	}
}

// Retrieve embeds the query, over-fetches 2x candidates, re-ranks by
// similarity x importance, folds near-duplicates, and returns the top K.
// Returned memories get their access count bumped as a side effect.
func (r *Retriever) Retrieve(ctx context.Context, scope Scope, query string) ([]Retrieved, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrieval, err)
	}

	results, err := r.store.MemoryVectorSearch(ctx, &store.MemoryVectorSearchOptions{
		UserID:        scope.UserID,
		PersonalityID: scope.PersonalityID,
		Vector:        vector,
		Limit:         2 * r.topK,
		MinSimilarity: r.minSim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", ErrRetrieval, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	ranked := make([]Retrieved, 0, len(results))
	for _, res := range results {
		decay := res.Memory.DecayFactor
		if decay <= 0 {
			decay = 1
		}
		ranked = append(ranked, Retrieved{
			Memory:     res.Memory,
			Similarity: float64(res.Score),
			Combined:   float64(res.Score) * res.Memory.Importance * decay,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Combined > ranked[j].Combined })

	kept := dedupRetrieved(ranked, r.topK)

	ids := make([]string, 0, len(kept))
	for _, k := range kept {
		ids = append(ids, k.Memory.ID)
	}
	if err := r.store.MarkMemoriesAccessed(ctx, ids, time.Now().Unix()); err != nil {
		// Access accounting feeds decay, not correctness.
		slog.Warn("failed to bump memory access counts", "count", len(ids), "error", err)
	}
	return kept, nil
}

// dedupRetrieved keeps the highest-ranked of near-identical contents:
// case-folded exact matches always fold, containment folds only when the
// contained string is long enough to be meaningful.
func dedupRetrieved(ranked []Retrieved, limit int) []Retrieved {
	kept := make([]Retrieved, 0, limit)
	for _, cand := range ranked {
		if len(kept) >= limit {
			break
		}
		candContent := foldContent(cand.Memory.Content)
		dup := false
		for _, k := range kept {
			if isNearDuplicate(foldContent(k.Memory.Content), candContent) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cand)
		}
	}
	return kept
}

func foldContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func isNearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	if len(b) > containmentMinLen && strings.Contains(a, b) {
		return true
	}
	if len(a) > containmentMinLen && strings.Contains(b, a) {
		return true
	}
	return false
}
