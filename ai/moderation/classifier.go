package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reveriehq/reverie/ai/core/llm"
)

// DefaultJudgeThreshold is the pattern confidence below which the LLM judge
// is consulted.
const DefaultJudgeThreshold = 0.7

// Result is a full classification with audit detail.
type Result struct {
	Label      Label        `json:"label"`
	Confidence float64      `json:"confidence"`
	Normalized string       `json:"normalized"`
	Indicators []string     `json:"indicators,omitempty"`
	Layers     []LayerTrace `json:"layers,omitempty"`
}

// LayerTrace records what one classification layer saw and decided.
type LayerTrace struct {
	Layer  string `json:"layer"`
	Detail string `json:"detail"`
}

// Config controls classifier construction.
type Config struct {
	// JudgeLLM enables the Layer 4 judge. Nil runs pattern-only.
	JudgeLLM llm.Service
	// JudgeThreshold overrides DefaultJudgeThreshold when > 0.
	JudgeThreshold float64
}

// Classifier labels messages through normalization, hard rules, pattern
// scoring, and an optional LLM judge. Safe for concurrent use.
type Classifier struct {
	judge          *judge
	judgeThreshold float64
}

func NewClassifier(config Config) *Classifier {
	c := &Classifier{judgeThreshold: config.JudgeThreshold}
	if c.judgeThreshold <= 0 {
		c.judgeThreshold = DefaultJudgeThreshold
	}
	if config.JudgeLLM != nil {
		c.judge = newJudge(config.JudgeLLM)
	}
	return c
}

// Close releases the judge verdict cache.
func (c *Classifier) Close() {
	if c.judge != nil {
		c.judge.Close()
	}
}

// Classify labels one message. It never fails: judge errors degrade to the
// pattern verdict.
func (c *Classifier) Classify(ctx context.Context, text string) *Result {
	normalized := Normalize(text)
	result := &Result{Normalized: normalized}
	result.trace("normalize", fmt.Sprintf("%d -> %d chars", len(text), len(normalized)))

	hits := scanFamilies(normalized)
	result.Indicators = hits.Indicators

	if hard := applyHardRules(normalized, hits.SexualContext()); hard != nil {
		result.Label = hard.Label
		result.Confidence = hard.Confidence
		result.Indicators = appendUnique(result.Indicators, hard.Indicators)
		result.trace("hard_rules", hard.Rule)
		return result
	}
	result.trace("hard_rules", "no match")

	label, confidence := scorePatterns(hits)
	result.Label = label
	result.Confidence = confidence
	result.trace("patterns", fmt.Sprintf("anatomy=%d acts=%d fetish=%d suggestive=%d request=%d -> %s %.2f",
		hits.Anatomy, hits.Acts, hits.Fetish, hits.Suggestive, hits.Request, label, confidence))

	if c.judge == nil || !c.needsJudge(confidence, hits) {
		return result
	}

	verdict, err := c.judge.Evaluate(ctx, normalized)
	if err != nil {
		slog.Warn("moderation judge unavailable, keeping pattern verdict",
			"pattern_label", label, "error", err)
		result.trace("judge", "error: "+err.Error())
		return result
	}

	blended, blendedConf, reason := blendVerdicts(label, confidence, verdict)
	result.Label = blended
	result.Confidence = blendedConf
	result.trace("judge", fmt.Sprintf("%s %.2f (%s) -> %s %.2f",
		verdict.Label, verdict.Confidence, reason, blended, blendedConf))
	return result
}

// needsJudge reports whether the pattern verdict is uncertain enough to pay
// for an LLM call.
func (c *Classifier) needsJudge(confidence float64, hits familyHits) bool {
	if confidence < c.judgeThreshold {
		return true
	}
	if hits.Families() >= 3 {
		return true
	}
	aa := hits.AnatomyActs()
	return (aa >= 1 && aa <= 2) || hits.Suggestive == 1
}

// blendVerdicts merges the judge verdict with the pattern verdict. Pattern
// wins ties so a lenient judge cannot create false negatives.
func blendVerdicts(patternLabel Label, patternConf float64, verdict *Judgment) (Label, float64, string) {
	switch {
	case verdict.Confidence > 0.85:
		return verdict.Label, verdict.Confidence, "judge_high_confidence"
	case verdict.Label == patternLabel:
		return patternLabel, min(patternConf+0.2, 1.0), "judge_agrees"
	case verdict.Label.RiskRank() > patternLabel.RiskRank():
		return verdict.Label, (patternConf + verdict.Confidence) / 2, "judge_higher_risk"
	default:
		return patternLabel, patternConf, "pattern_wins"
	}
}

func (r *Result) trace(layer, detail string) {
	r.Layers = append(r.Layers, LayerTrace{Layer: layer, Detail: detail})
}

func appendUnique(dst []string, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
