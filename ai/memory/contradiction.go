package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/store"
)

const (
	// contradictionSimilarity is the vector floor for fetching supersedence
	// candidates at write time.
	contradictionSimilarity = 0.7

	// contradictionCandidates caps how many same-type memories one write
	// checks against.
	contradictionCandidates = 5

	// DefaultContradictionConfidence is the LLM acceptance floor.
	DefaultContradictionConfidence = 0.7
)

var (
	positiveStanceRe = regexp.MustCompile(`\b(?:love|loves|like|likes|enjoy|enjoys|prefer|prefers|adore|adores|favorite|favourite|into|obsessed with)\b`)
	negativeStanceRe = regexp.MustCompile(`\b(?:hate|hates|dislike|dislikes|can't stand|cannot stand|despise|despises|no longer|not into|quit|stopped|avoid|avoids|allergic to|don't like|doesn't like|do not like)\b`)

	// Words that carry no subject identity; removed before overlap checks.
	subjectStopwords = map[string]bool{
		"i": true, "me": true, "my": true, "the": true, "a": true, "an": true,
		"user": true, "user's": true, "is": true, "am": true, "are": true,
		"was": true, "to": true, "of": true, "in": true, "on": true,
		"for": true, "and": true, "or": true, "it": true, "that": true,
		"this": true, "very": true, "really": true, "so": true, "now": true,
		"anymore": true, "have": true, "has": true, "had": true,
	}
)

const contradictionPrompt = `You compare two statements about the same user and decide whether the NEW statement contradicts the OLD one.

A contradiction means both cannot be true at the same time (e.g. "loves coffee" vs "hates coffee", "lives in Berlin" vs "lives in Tokyo"). A refinement or an unrelated statement is NOT a contradiction.

OLD: %s
NEW: %s

Respond with strict JSON only: {"contradicts": true|false, "confidence": 0.0, "reasoning": "one short sentence"}`

// DetectorConfig tunes contradiction detection.
type DetectorConfig struct {
	// Strategy is pattern, llm, or hybrid.
	Strategy string
	// MinConfidence is the LLM acceptance floor (default 0.7).
	MinConfidence float64
}

// Detector decides whether a new memory contradicts an old one.
type Detector struct {
	llm           llm.Service
	strategy      string
	minConfidence float64
}

func NewDetector(svc llm.Service, config DetectorConfig) *Detector {
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultContradictionConfidence
	}
	strategy := config.Strategy
	if strategy == "" || (svc == nil && strategy != "pattern") {
		strategy = "pattern"
	}
	return &Detector{llm: svc, strategy: strategy, minConfidence: config.MinConfidence}
}

// IsContradictory reports whether newContent contradicts oldContent.
// Detection is advisory; on LLM failure the hybrid strategy falls back to
// patterns and the llm strategy reports false.
func (d *Detector) IsContradictory(ctx context.Context, oldContent, newContent string) bool {
	switch d.strategy {
	case "llm":
		verdict, err := d.llmContradicts(ctx, oldContent, newContent)
		if err != nil {
			slog.Warn("contradiction check failed", "error", err)
			return false
		}
		return verdict
	case "hybrid":
		verdict, err := d.llmContradicts(ctx, oldContent, newContent)
		if err != nil {
			return patternContradicts(oldContent, newContent)
		}
		return verdict
	default:
		return patternContradicts(oldContent, newContent)
	}
}

func (d *Detector) llmContradicts(ctx context.Context, oldContent, newContent string) (bool, error) {
	response, _, err := d.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(contradictionPrompt, oldContent, newContent)},
	})
	if err != nil {
		return false, fmt.Errorf("contradiction call: %w", err)
	}

	response = stripCodeFence(response)
	var verdict struct {
		Contradicts bool    `json:"contradicts"`
		Confidence  float64 `json:"confidence"`
		Reasoning   string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(response), &verdict); err != nil {
		return false, fmt.Errorf("parse contradiction JSON: %w", err)
	}
	return verdict.Contradicts && verdict.Confidence >= d.minConfidence, nil
}

// patternContradicts detects opposite-stance statements over a shared
// subject: one side positive, the other negative, with at least one content
// word in common once stance and stop words are stripped.
func patternContradicts(oldContent, newContent string) bool {
	oldLower := strings.ToLower(oldContent)
	newLower := strings.ToLower(newContent)

	oldPos, oldNeg := positiveStanceRe.MatchString(oldLower), negativeStanceRe.MatchString(oldLower)
	newPos, newNeg := positiveStanceRe.MatchString(newLower), negativeStanceRe.MatchString(newLower)

	// Negative markers dominate: "no longer likes X" is a negative stance
	// even though "likes" also matches the positive set.
	if oldNeg {
		oldPos = false
	}
	if newNeg {
		newPos = false
	}

	opposite := (oldPos && newNeg) || (oldNeg && newPos)
	if !opposite {
		return false
	}
	return sharedSubject(oldLower, newLower)
}

func sharedSubject(a, b string) bool {
	aWords := subjectWords(a)
	if len(aWords) == 0 {
		return false
	}
	for w := range subjectWords(b) {
		if aWords[w] {
			return true
		}
	}
	return false
}

func subjectWords(s string) map[string]bool {
	cleaned := positiveStanceRe.ReplaceAllString(s, " ")
	cleaned = negativeStanceRe.ReplaceAllString(cleaned, " ")
	words := make(map[string]bool)
	for _, w := range strings.Fields(cleaned) {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) < 3 || subjectStopwords[w] {
			continue
		}
		words[w] = true
	}
	return words
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Writer stores memories, resolving contradictions at write time. Only
// preference and fact memories participate in supersedence.
type Writer struct {
	store    Store
	detector *Detector
}

func NewWriter(st Store, detector *Detector) *Writer {
	return &Writer{store: st, detector: detector}
}

// Store persists a memory. For preference/fact types it first searches
// same-type active memories above the similarity floor and, on the first
// contradiction, supersedes the old row in the same transaction as the
// insert.
func (w *Writer) Store(ctx context.Context, mem *store.Memory) (*store.Memory, error) {
	superseded, err := w.findSuperseded(ctx, mem)
	if err != nil {
		// Candidate lookup is best-effort; the write itself must proceed.
		slog.Warn("supersedence candidate lookup failed", "error", err)
	}

	created, err := w.store.CreateMemorySuperseding(ctx, mem, superseded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if len(superseded) > 0 {
		slog.Info("memory superseded on contradiction",
			"new_id", created.ID, "superseded", superseded)
	}
	return created, nil
}

func (w *Writer) findSuperseded(ctx context.Context, mem *store.Memory) ([]string, error) {
	if mem.Type != store.MemoryTypePreference && mem.Type != store.MemoryTypeFact {
		return nil, nil
	}
	if len(mem.Embedding) == 0 {
		return nil, nil
	}

	candidates, err := w.store.MemoryVectorSearch(ctx, &store.MemoryVectorSearchOptions{
		UserID:        mem.UserID,
		PersonalityID: mem.PersonalityID,
		Vector:        mem.Embedding,
		Limit:         contradictionCandidates,
		MinSimilarity: contradictionSimilarity,
		Types:         []store.MemoryType{mem.Type},
	})
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		if w.detector.IsContradictory(ctx, cand.Memory.Content, mem.Content) {
			return []string{cand.Memory.ID}, nil
		}
	}
	return nil, nil
}
