package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/store"
)

// Categorizer labels a memory with a category and entity list before it is
// stored. *analyzers.Categorizer satisfies it.
type Categorizer interface {
	Categorize(ctx context.Context, content string) (*analyzers.Categorization, error)
}

const (
	// DefaultMinTurns gates extraction until the buffer holds enough turns.
	DefaultMinTurns = 3

	// DefaultWindowSize is how many trailing turns extraction reads.
	DefaultWindowSize = 10

	// DefaultMaxCandidates caps stored memories per extraction.
	DefaultMaxCandidates = 5

	// DefaultMinImportance drops trivia the LLM rates below it.
	DefaultMinImportance = 0.3

	// DefaultDedupSimilarity treats an existing memory this close as the
	// same memory.
	DefaultDedupSimilarity = 0.95
)

// Candidate is one extracted memory before persistence.
type Candidate struct {
	Content    string           `json:"content"`
	Type       store.MemoryType `json:"type"`
	Importance float64          `json:"importance"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

const extractionPrompt = `You are a memory extraction system for a companion chat service. Given a conversation window, extract durable information ABOUT THE USER worth remembering across sessions.

Extract:
- facts (name, job, location, possessions, people in their life)
- preferences (likes, dislikes, favorites, communication tastes)
- events (things that happened to them, plans they made)
- context (ongoing situations: job hunt, moving, recovering from illness)

Rules:
- Only statements made or strongly implied by the USER, never the assistant.
- Each item is one concise third-person statement ("User lives in Lisbon").
- importance is 0.0-1.0: identity facts and strong preferences rate high,
  small talk rates low.
- Return at most 5 items. Return [] when nothing is worth keeping.

Respond with a strict JSON array:
[{"content": "...", "type": "fact|preference|event|context", "importance": 0.0, "reasoning": "..."}]

Conversation window:
%s`

// Surface patterns for the rule-based strategy. Matching runs on lowercased
// user turns.
var (
	questionRe = regexp.MustCompile(`^(?:what|how|why|when|where|who|which|can you|could you|would you|will you|do you|did you|are you|is it|tell me)\b|\?\s*$`)

	preferenceMarkerRe = regexp.MustCompile(`\b(?:i (?:love|like|enjoy|prefer|adore|hate|dislike)|my favorite|my favourite|i can't stand|i'm (?:into|obsessed with)|i am (?:into|obsessed with))\b`)

	factMarkerRe = regexp.MustCompile(`\b(?:my name is|i am called|i'm called|i am (?:a|an|from)|i'm (?:a|an|from)|i work|i live|i have (?:a|an|two|three)|i was born|i speak|my (?:job|wife|husband|partner|dog|cat|son|daughter|sister|brother)\b)`)

	eventMarkerRe = regexp.MustCompile(`\b(?:yesterday|today|last (?:night|week|month|year)|this (?:morning|week(?:end)?)|i (?:went|visited|got|finished|started|met|moved|quit|passed|failed)|we (?:had|went))\b`)

	emphasisRe = regexp.MustCompile(`\b(?:really|absolutely|always|never|definitely|so much)\b`)
)

// ExtractorConfig tunes extraction. Zero values take defaults; Strategy is
// pattern, llm, or hybrid.
type ExtractorConfig struct {
	Strategy        string
	MinTurns        int
	WindowSize      int
	MaxCandidates   int
	MinImportance   float64
	DedupSimilarity float64
}

// Extractor turns conversation windows into stored long-term memories.
type Extractor struct {
	store       Store
	embedder    Embedder
	writer      *Writer
	llm         llm.Service
	categorizer Categorizer

	strategy        string
	minTurns        int
	windowSize      int
	maxCandidates   int
	minImportance   float64
	dedupSimilarity float64
}

func NewExtractor(st Store, embedder Embedder, writer *Writer, svc llm.Service, config ExtractorConfig) *Extractor {
	if config.MinTurns <= 0 {
		config.MinTurns = DefaultMinTurns
	}
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultWindowSize
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultMaxCandidates
	}
	if config.MinImportance <= 0 {
		config.MinImportance = DefaultMinImportance
	}
	if config.DedupSimilarity <= 0 {
		config.DedupSimilarity = DefaultDedupSimilarity
	}
	strategy := config.Strategy
	if strategy == "" || (svc == nil && strategy != "pattern") {
		strategy = "pattern"
	}
	return &Extractor{
		store:           st,
		embedder:        embedder,
		writer:          writer,
		llm:             svc,
		strategy:        strategy,
		minTurns:        config.MinTurns,
		windowSize:      config.WindowSize,
		maxCandidates:   config.MaxCandidates,
		minImportance:   config.MinImportance,
		dedupSimilarity: config.DedupSimilarity,
	}
}

// WithCategorizer labels every stored memory with a category and entity
// list. Nil leaves memories uncategorized.
func (e *Extractor) WithCategorizer(c Categorizer) *Extractor {
	e.categorizer = c
	return e
}

// ExtractAndStore runs post-response extraction over the buffered turns.
// Returns how many memories were stored. Runs in the detached background
// task; callers log failures and move on.
func (e *Extractor) ExtractAndStore(ctx context.Context, scope Scope, turns []buffer.Entry) (int, error) {
	if len(turns) < e.minTurns {
		return 0, nil
	}
	if len(turns) > e.windowSize {
		turns = turns[len(turns)-e.windowSize:]
	}

	candidates := e.extract(ctx, turns)
	if len(candidates) == 0 {
		return 0, nil
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("%w: embed candidates: %w", ErrStorage, err)
	}

	stored := 0
	for i, cand := range candidates {
		dup, err := e.isDuplicate(ctx, scope, vectors[i])
		if err != nil {
			slog.Warn("memory dedup search failed, storing anyway", "error", err)
		}
		if dup {
			continue
		}
		mem := &store.Memory{
			UserID:         scope.UserID,
			PersonalityID:  scope.PersonalityID,
			ConversationID: scope.ConversationID,
			Content:        cand.Content,
			Embedding:      vectors[i],
			Type:           cand.Type,
			Importance:     cand.Importance,
		}
		if e.categorizer != nil {
			if categorization, err := e.categorizer.Categorize(ctx, cand.Content); err == nil && categorization != nil {
				mem.Category = categorization.Category
				mem.Entities = categorization.Entities
			}
		}
		_, err = e.writer.Store(ctx, mem)
		if err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (e *Extractor) isDuplicate(ctx context.Context, scope Scope, vector []float32) (bool, error) {
	results, err := e.store.MemoryVectorSearch(ctx, &store.MemoryVectorSearchOptions{
		UserID:        scope.UserID,
		PersonalityID: scope.PersonalityID,
		Vector:        vector,
		Limit:         1,
		MinSimilarity: e.dedupSimilarity,
	})
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}

func (e *Extractor) extract(ctx context.Context, turns []buffer.Entry) []Candidate {
	switch e.strategy {
	case "llm":
		candidates, err := e.llmExtract(ctx, turns)
		if err != nil {
			slog.Warn("llm extraction failed", "error", err)
			return nil
		}
		return candidates
	case "hybrid":
		candidates, err := e.llmExtract(ctx, turns)
		if err != nil || len(candidates) == 0 {
			return e.patternExtract(turns)
		}
		return candidates
	default:
		return e.patternExtract(turns)
	}
}

func (e *Extractor) llmExtract(ctx context.Context, turns []buffer.Entry) ([]Candidate, error) {
	var window strings.Builder
	for _, t := range turns {
		window.WriteString(t.Role)
		window.WriteString(": ")
		window.WriteString(t.Content)
		window.WriteString("\n")
	}

	response, _, err := e.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(extractionPrompt, window.String())},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	return e.parseCandidates(response), nil
}

// parseCandidates parses the LLM extraction response, dropping invalid
// types, clamping importance, and enforcing the floor and cap.
func (e *Extractor) parseCandidates(response string) []Candidate {
	response = stripCodeFence(response)
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var raw []Candidate
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		slog.Warn("unparseable extraction response", "error", err)
		return nil
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" || !validMemoryType(c.Type) {
			continue
		}
		if c.Importance < e.minImportance {
			continue
		}
		if c.Importance > 1 {
			c.Importance = 1
		}
		candidates = append(candidates, c)
		if len(candidates) >= e.maxCandidates {
			break
		}
	}
	return candidates
}

// patternExtract scores user turns by surface patterns. Questions never
// become memories.
func (e *Extractor) patternExtract(turns []buffer.Entry) []Candidate {
	candidates := make([]Candidate, 0, e.maxCandidates)
	seen := make(map[string]bool)
	for _, t := range turns {
		if t.Role != "user" {
			continue
		}
		content := strings.TrimSpace(t.Content)
		lower := strings.ToLower(content)
		if content == "" || questionRe.MatchString(lower) {
			continue
		}

		var memType store.MemoryType
		var importance float64
		switch {
		case preferenceMarkerRe.MatchString(lower):
			memType, importance = store.MemoryTypePreference, 0.65
		case factMarkerRe.MatchString(lower):
			memType, importance = store.MemoryTypeFact, 0.6
		case eventMarkerRe.MatchString(lower):
			memType, importance = store.MemoryTypeEvent, 0.5
		default:
			continue
		}
		if emphasisRe.MatchString(lower) {
			importance = min(importance+0.1, 1.0)
		}

		folded := foldContent(content)
		if seen[folded] {
			continue
		}
		seen[folded] = true

		candidates = append(candidates, Candidate{
			Content:    content,
			Type:       memType,
			Importance: importance,
		})
		if len(candidates) >= e.maxCandidates {
			break
		}
	}
	return candidates
}

func validMemoryType(t store.MemoryType) bool {
	switch t {
	case store.MemoryTypeFact, store.MemoryTypePreference, store.MemoryTypeEvent, store.MemoryTypeContext:
		return true
	}
	return false
}
