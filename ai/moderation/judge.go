package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reveriehq/reverie/ai/core/llm"
	storecache "github.com/reveriehq/reverie/store/cache"
)

const judgeSystemPrompt = `You are a content classifier for an adult companion chat service. Classify the user message into exactly one label:

- SAFE: everyday conversation, no sexual content
- SUGGESTIVE: flirtatious or romantic, nothing explicit
- EXPLICIT_CONSENSUAL_ADULT: explicit sexual content between consenting adults
- EXPLICIT_FETISH: BDSM, kink, or fetish content between consenting adults
- NONCONSENSUAL: sexual content involving force, coercion, or incapacitation
- MINOR_RISK: any indication a participant may be under 18

Respond with strict JSON only: {"label": "...", "confidence": 0.0, "reasoning": "..."}.
Confidence is between 0 and 1. Reasoning is one short sentence.`

// Judgment is the parsed verdict from the LLM judge.
type Judgment struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// judge wraps the Layer 4 LLM call with a verdict cache keyed by the hash of
// the normalized text, so repeated borderline phrasings cost one call.
type judge struct {
	llm   llm.Service
	cache *storecache.Cache
}

func newJudge(svc llm.Service) *judge {
	return &judge{
		llm: svc,
		cache: storecache.New(storecache.Config{
			DefaultTTL:      time.Hour,
			CleanupInterval: 10 * time.Minute,
			MaxItems:        4096,
		}),
	}
}

func (j *judge) Close() {
	if j != nil && j.cache != nil {
		j.cache.Close()
	}
}

// Evaluate asks the judge model for a verdict on normalized text.
func (j *judge) Evaluate(ctx context.Context, normalized string) (*Judgment, error) {
	key := judgeCacheKey(normalized)
	if cached, ok := j.cache.Get(key); ok {
		if verdict, ok := cached.(*Judgment); ok {
			return verdict, nil
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: normalized},
	}
	response, _, err := j.llm.ChatJSON(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}

	verdict, err := parseJudgment(response)
	if err != nil {
		return nil, err
	}
	j.cache.Set(key, verdict)
	return verdict, nil
}

func judgeCacheKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func parseJudgment(response string) (*Judgment, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var raw struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return nil, fmt.Errorf("parse judge JSON: %w", err)
	}

	label, ok := ParseLabel(strings.ToUpper(strings.TrimSpace(raw.Label)))
	if !ok {
		return nil, fmt.Errorf("judge returned unknown label %q", raw.Label)
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, fmt.Errorf("judge confidence %v out of range", raw.Confidence)
	}
	return &Judgment{Label: label, Confidence: raw.Confidence, Reasoning: raw.Reasoning}, nil
}
