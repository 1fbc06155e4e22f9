package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/reveriehq/reverie/store"
)

const (
	// DefaultMaxPerUser bounds how many active memories one run inspects
	// per user.
	DefaultMaxPerUser = 200

	// DefaultMaxUsersPerRun bounds a single consolidation run.
	DefaultMaxUsersPerRun = 50

	// DefaultSemanticThreshold is the similarity at which two same-type
	// memories count as one.
	DefaultSemanticThreshold = 0.9

	// semanticNeighborCap is how many merge partners one memory can take
	// in a single pass.
	semanticNeighborCap = 3

	// consolidationActivityWindow selects users active recently enough to
	// be worth consolidating.
	consolidationActivityWindow = 30 * 24 * time.Hour

	// decayHalfLife halves a memory's decay factor for every period it
	// goes unaccessed.
	decayHalfLife = 90 * 24 * time.Hour

	// decayFloor keeps even long-forgotten memories retrievable.
	decayFloor = 0.1

	// decayWriteDelta skips writes for changes too small to affect ranking.
	decayWriteDelta = 0.01
)

// ConsolidatorConfig tunes the periodic job. Zero values take defaults.
type ConsolidatorConfig struct {
	MaxPerUser        int
	MaxUsersPerRun    int
	SemanticThreshold float64
}

// Report summarizes one consolidation run.
type Report struct {
	UsersProcessed int
	ExactMerged    int
	SemanticMerged int
	Decayed        int
	Duration       time.Duration
}

// Consolidator folds duplicate memories. It only marks rows inactive with a
// pointer to the keeper; nothing is deleted, so re-running is harmless.
type Consolidator struct {
	store Store

	maxPerUser        int
	maxUsersPerRun    int
	semanticThreshold float64
}

func NewConsolidator(st Store, config ConsolidatorConfig) *Consolidator {
	if config.MaxPerUser <= 0 {
		config.MaxPerUser = DefaultMaxPerUser
	}
	if config.MaxUsersPerRun <= 0 {
		config.MaxUsersPerRun = DefaultMaxUsersPerRun
	}
	if config.SemanticThreshold <= 0 {
		config.SemanticThreshold = DefaultSemanticThreshold
	}
	return &Consolidator{
		store:             st,
		maxPerUser:        config.MaxPerUser,
		maxUsersPerRun:    config.MaxUsersPerRun,
		semanticThreshold: config.SemanticThreshold,
	}
}

// Run consolidates memories for the most recently active users.
func (c *Consolidator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	since := started.Add(-consolidationActivityWindow).Unix()

	userIDs, err := c.store.ListRecentlyActiveUsers(ctx, since, c.maxUsersPerRun)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", ErrStorage, err)
	}

	report := &Report{}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		exact, semantic, decayed, err := c.consolidateUser(ctx, userID)
		if err != nil {
			slog.Warn("consolidation failed for user, continuing", "user_id", userID, "error", err)
			continue
		}
		report.UsersProcessed++
		report.ExactMerged += exact
		report.SemanticMerged += semantic
		report.Decayed += decayed
	}
	report.Duration = time.Since(started)
	slog.Info("memory consolidation run complete",
		"users", report.UsersProcessed,
		"exact_merged", report.ExactMerged,
		"semantic_merged", report.SemanticMerged,
		"decayed", report.Decayed,
		"duration", report.Duration)
	return report, nil
}

func (c *Consolidator) consolidateUser(ctx context.Context, userID string) (int, int, int, error) {
	active := true
	memories, err := c.store.ListMemories(ctx, &store.FindMemory{
		UserID:   &userID,
		IsActive: &active,
		Limit:    &c.maxPerUser,
	})
	if err != nil {
		return 0, 0, 0, err
	}
	if len(memories) == 0 {
		return 0, 0, 0, nil
	}

	exact, remaining, err := c.exactPass(ctx, memories)
	if err != nil {
		return exact, 0, 0, err
	}
	semantic, remaining, err := c.semanticPass(ctx, remaining)
	if err != nil {
		return exact, semantic, 0, err
	}
	decayed, err := c.decayPass(ctx, remaining)
	return exact, semantic, decayed, err
}

// exactPass folds memories with identical normalized content within the
// same personality scope, keeping the newest. Returns the survivors.
func (c *Consolidator) exactPass(ctx context.Context, memories []*store.Memory) (int, []*store.Memory, error) {
	type groupKey struct {
		personalityID string
		content       string
	}
	groups := make(map[groupKey][]*store.Memory)
	for _, m := range memories {
		key := groupKey{m.PersonalityID, foldContent(m.Content)}
		groups[key] = append(groups[key], m)
	}

	merged := 0
	dropped := make(map[string]bool)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keeper := group[0]
		for _, m := range group[1:] {
			if m.CreatedTs > keeper.CreatedTs {
				keeper = m
			}
		}
		var losers []string
		for _, m := range group {
			if m.ID != keeper.ID {
				losers = append(losers, m.ID)
				dropped[m.ID] = true
			}
		}
		if err := c.store.SupersedeMemories(ctx, keeper.ID, losers); err != nil {
			return merged, nil, err
		}
		merged += len(losers)
	}

	remaining := make([]*store.Memory, 0, len(memories)-merged)
	for _, m := range memories {
		if !dropped[m.ID] {
			remaining = append(remaining, m)
		}
	}
	return merged, remaining, nil
}

// semanticPass folds near-identical same-type memories within the same
// personality scope. The keeper has the higher importance; ties go to the
// newer row.
func (c *Consolidator) semanticPass(ctx context.Context, memories []*store.Memory) (int, []*store.Memory, error) {
	merged := 0
	dropped := make(map[string]bool)

	for i, m := range memories {
		if dropped[m.ID] || len(m.Embedding) == 0 {
			continue
		}
		neighbors := 0
		for j := i + 1; j < len(memories) && neighbors < semanticNeighborCap; j++ {
			other := memories[j]
			if dropped[other.ID] || other.Type != m.Type || other.PersonalityID != m.PersonalityID {
				continue
			}
			if cosineSimilarity(m.Embedding, other.Embedding) < c.semanticThreshold {
				continue
			}
			neighbors++

			keeper, loser := m, other
			if other.Importance > m.Importance ||
				(other.Importance == m.Importance && other.CreatedTs > m.CreatedTs) {
				keeper, loser = other, m
			}
			if err := c.store.SupersedeMemories(ctx, keeper.ID, []string{loser.ID}); err != nil {
				return merged, nil, err
			}
			dropped[loser.ID] = true
			merged++
			if loser.ID == m.ID {
				break
			}
		}
	}

	remaining := make([]*store.Memory, 0, len(memories)-merged)
	for _, m := range memories {
		if !dropped[m.ID] {
			remaining = append(remaining, m)
		}
	}
	return merged, remaining, nil
}

// decayPass halves the decay factor of memories left unaccessed for each
// elapsed half-life, bottoming out at the floor so nothing vanishes from
// ranking entirely. Retrieval reads importance*decay, so this only reorders.
func (c *Consolidator) decayPass(ctx context.Context, memories []*store.Memory) (int, error) {
	now := time.Now()
	decayed := 0
	for _, m := range memories {
		lastSeen := m.LastAccessedTs
		if lastSeen == 0 {
			lastSeen = m.CreatedTs
		}
		idle := now.Sub(time.Unix(lastSeen, 0))
		if idle < decayHalfLife {
			continue
		}
		target := math.Pow(0.5, idle.Hours()/decayHalfLife.Hours())
		if target < decayFloor {
			target = decayFloor
		}
		if math.Abs(m.DecayFactor-target) < decayWriteDelta {
			continue
		}
		if _, err := c.store.UpdateMemory(ctx, &store.UpdateMemory{
			ID:          m.ID,
			DecayFactor: &target,
		}); err != nil {
			return decayed, err
		}
		m.DecayFactor = target
		decayed++
	}
	return decayed, nil
}
