// Package analyzers holds the advisory per-turn detectors: communication
// preferences, emotion, goals, personality directives, and memory
// categorization. Every analyzer supports three strategies selected by
// config: pattern (regex and keyword tables), llm (strict-JSON prompt), and
// hybrid (LLM first, pattern when the LLM fails or finds nothing).
//
// Analyzers detect; they never persist. Callers decide what to do with a
// result, and a nil result always means "no change". A failing analyzer
// must never fail the turn.
package analyzers

import (
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
)

// Strategy names accepted by every analyzer config.
const (
	StrategyPattern = "pattern"
	StrategyLLM     = "llm"
	StrategyHybrid  = "hybrid"
)

// resolveStrategy falls back to pattern when the requested strategy needs
// an LLM that is not configured.
func resolveStrategy(strategy string, svc llm.Service) string {
	if strategy == "" {
		return StrategyPattern
	}
	if svc == nil && strategy != StrategyPattern {
		return StrategyPattern
	}
	return strategy
}

// stripCodeFence removes a markdown code fence around a JSON payload.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// jsonSlice narrows a response to the first top-level JSON object or array,
// tolerating prose around the payload.
func jsonSlice(s string, opening, closing byte) string {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
