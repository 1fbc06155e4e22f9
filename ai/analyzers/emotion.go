package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/store"
)

// DefaultEmotionConfidence is the floor below which a detection is dropped.
const DefaultEmotionConfidence = 0.3

// EmotionResult is one detected emotion. Nil result means no emotion worth
// recording.
type EmotionResult struct {
	Emotion    string                 `json:"emotion"`
	Confidence float64                `json:"confidence"`
	Intensity  store.EmotionIntensity `json:"intensity"`
	Indicators []string               `json:"indicators"`
}

const emotionPrompt = `You detect the dominant emotion the user expresses in one chat message.

Known emotions: happy, excited, sad, angry, anxious, lonely, tired, affectionate. Use "none" when the message carries no clear emotion.

Message: %q

Respond with strict JSON only:
{"emotion": "none", "confidence": 0.0, "intensity": "low|medium|high", "indicators": ["words or phrases that signal it"]}`

// emotionKeywords maps each emotion to the surface words that signal it.
// Matching is substring-based on the lowercased message.
var emotionKeywords = map[string][]string{
	"happy":        {"happy", "glad", "wonderful", "amazing", "great news", "fantastic", "delighted", "yay", "made my day"},
	"excited":      {"excited", "can't wait", "cant wait", "pumped", "hyped", "thrilled", "stoked", "counting down"},
	"sad":          {"sad", "down lately", "depressed", "miserable", "crying", "cried", "heartbroken", "devastated", "in tears", "lost my"},
	"angry":        {"angry", "furious", "so mad", "pissed", "annoyed", "irritated", "fed up", "sick of", "drives me crazy"},
	"anxious":      {"anxious", "nervous", "worried", "stressed", "overwhelmed", "scared", "afraid", "panicking", "freaking out", "dreading"},
	"lonely":       {"lonely", "so alone", "isolated", "no one to talk", "nobody cares", "by myself again"},
	"tired":        {"exhausted", "so tired", "drained", "burned out", "burnt out", "can't sleep", "cant sleep", "barely slept", "running on empty"},
	"affectionate": {"miss you", "love you", "thinking of you", "wish you were", "you mean so much"},
}

var emotionIntensifiers = []string{"so ", "really ", "very ", "extremely ", "incredibly ", "totally ", "absolutely "}

// EmotionConfig tunes the emotion detector.
type EmotionConfig struct {
	Strategy      string
	MinConfidence float64
}

// EmotionDetector finds the dominant emotion in a user message.
type EmotionDetector struct {
	llm           llm.Service
	strategy      string
	minConfidence float64
}

func NewEmotionDetector(svc llm.Service, config EmotionConfig) *EmotionDetector {
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultEmotionConfidence
	}
	return &EmotionDetector{
		llm:           svc,
		strategy:      resolveStrategy(config.Strategy, svc),
		minConfidence: config.MinConfidence,
	}
}

// Detect returns the dominant emotion, or nil when none clears the floor.
func (d *EmotionDetector) Detect(ctx context.Context, message string) (*EmotionResult, error) {
	switch d.strategy {
	case StrategyLLM:
		return d.llmDetect(ctx, message)
	case StrategyHybrid:
		result, err := d.llmDetect(ctx, message)
		if err != nil || result == nil {
			return patternEmotion(message, d.minConfidence), nil
		}
		return result, nil
	default:
		return patternEmotion(message, d.minConfidence), nil
	}
}

func (d *EmotionDetector) llmDetect(ctx context.Context, message string) (*EmotionResult, error) {
	response, _, err := d.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(emotionPrompt, message)},
	})
	if err != nil {
		return nil, fmt.Errorf("emotion call: %w", err)
	}

	payload := jsonSlice(stripCodeFence(response), '{', '}')
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in emotion response")
	}
	var result EmotionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("parse emotion JSON: %w", err)
	}

	result.Emotion = strings.ToLower(strings.TrimSpace(result.Emotion))
	if result.Emotion == "" || result.Emotion == "none" || result.Emotion == "neutral" {
		return nil, nil
	}
	if result.Confidence < d.minConfidence || result.Confidence > 1 {
		return nil, nil
	}
	switch result.Intensity {
	case store.EmotionIntensityLow, store.EmotionIntensityMedium, store.EmotionIntensityHigh:
	default:
		result.Intensity = store.EmotionIntensityMedium
	}
	return &result, nil
}

// patternEmotion scores each emotion by keyword hits; the winner's
// confidence grows with hit count and intensity with intensifiers and
// exclamation marks.
func patternEmotion(message string, minConfidence float64) *EmotionResult {
	lower := strings.ToLower(message)

	best := ""
	bestHits := 0
	var bestIndicators []string
	for emotion, keywords := range emotionKeywords {
		hits := 0
		var indicators []string
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
				indicators = append(indicators, strings.TrimSpace(kw))
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && emotion < best) {
			best = emotion
			bestHits = hits
			bestIndicators = indicators
		}
	}
	if bestHits == 0 {
		return nil
	}

	confidence := min(0.3+0.15*float64(bestHits), 0.9)
	if confidence < minConfidence {
		return nil
	}

	boost := strings.Count(lower, "!")
	for _, word := range emotionIntensifiers {
		if strings.Contains(lower, word) {
			boost++
		}
	}
	intensity := store.EmotionIntensityLow
	switch {
	case bestHits+boost >= 3:
		intensity = store.EmotionIntensityHigh
	case bestHits+boost >= 2:
		intensity = store.EmotionIntensityMedium
	}

	return &EmotionResult{
		Emotion:    best,
		Confidence: confidence,
		Intensity:  intensity,
		Indicators: bestIndicators,
	}
}
