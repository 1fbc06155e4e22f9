package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
)

// PreferenceUpdate carries only the preferences one message changed.
// Nil fields mean unchanged.
type PreferenceUpdate struct {
	Language         *string `json:"language"`
	Formality        *string `json:"formality"`
	Tone             *string `json:"tone"`
	EmojiUsage       *string `json:"emoji_usage"`
	ResponseLength   *string `json:"response_length"`
	ExplanationStyle *string `json:"explanation_style"`
}

// Empty reports whether the message changed nothing.
func (u *PreferenceUpdate) Empty() bool {
	return u == nil || (u.Language == nil && u.Formality == nil && u.Tone == nil &&
		u.EmojiUsage == nil && u.ResponseLength == nil && u.ExplanationStyle == nil)
}

const preferencePrompt = `You detect explicit communication-preference requests in one chat message. Only report a preference the user clearly asked for; infer nothing from topic or mood.

Fields and allowed values:
- language: the language the user asked to be spoken to in (lowercase english name)
- formality: "formal" or "casual"
- tone: "friendly", "professional", "serious", or "lighthearted"
- emoji_usage: "none", "minimal", or "frequent"
- response_length: "short", "medium", or "detailed"
- explanation_style: "simple", "technical", or "step_by_step"

Message: %q

Respond with strict JSON only, null for anything the message did not ask to change:
{"language": null, "formality": null, "tone": null, "emoji_usage": null, "response_length": null, "explanation_style": null}`

var (
	languageRe = regexp.MustCompile(`\b(?:speak|talk|reply|respond|answer|write|chat)(?: to me)?(?: only)? in (spanish|english|french|german|portuguese|italian|dutch|japanese|chinese|korean|russian|hindi|arabic|turkish|polish|swedish)\b`)

	formalRe = regexp.MustCompile(`\b(?:be more formal|speak formally|talk formally|more formally please|keep it formal)\b`)
	casualRe = regexp.MustCompile(`\b(?:be less formal|be more casual|be casual|keep it casual|talk casually|don't be so formal|so stiff|loosen up a bit)\b`)

	toneLeadRe  = regexp.MustCompile(`\bkeep (?:the|your) tone (friendly|professional|serious|lighthearted|light)\b`)
	toneTrailRe = regexp.MustCompile(`\b(?:i(?:'d)? prefer a|use a|in a|with a)\s+(friendly|professional|serious|lighthearted|light)\s+tone\b`)

	emojiOffRe  = regexp.MustCompile(`\b(?:no emojis?|stop using emojis?|don't use emojis?|without emojis?|drop the emojis?)\b`)
	emojiLessRe = regexp.MustCompile(`\b(?:fewer emojis?|less emojis?|too many emojis?|ease up on the emojis?)\b`)
	emojiMoreRe = regexp.MustCompile(`\b(?:more emojis?|use emojis?|i love emojis?|add some emojis?)\b`)

	shortRe    = regexp.MustCompile(`\b(?:keep it short|keep it brief|keep your (?:answers|replies|responses) short|shorter (?:answers|replies|responses)|be brief|be concise|short answers)\b`)
	detailedRe = regexp.MustCompile(`\b(?:more detail|more detailed|longer (?:answers|replies|responses)|elaborate more|go deeper|in-depth answers|don't hold back on detail)\b`)

	simpleStyleRe = regexp.MustCompile(`\b(?:explain (?:it |things )?like i'?m (?:five|5)|eli5|in simple terms|in plain english|keep explanations simple|simply put)\b`)
	techStyleRe   = regexp.MustCompile(`\b(?:be technical|more technical|technical detail|like an engineer|don't dumb it down)\b`)
	stepStyleRe   = regexp.MustCompile(`\b(?:step by step|step-by-step|walk me through)\b`)
)

// PreferenceConfig tunes the preference analyzer.
type PreferenceConfig struct {
	Strategy string
}

// PreferenceAnalyzer spots explicit requests like "keep it short" or
// "speak french" in a single user message.
type PreferenceAnalyzer struct {
	llm      llm.Service
	strategy string
}

func NewPreferenceAnalyzer(svc llm.Service, config PreferenceConfig) *PreferenceAnalyzer {
	return &PreferenceAnalyzer{llm: svc, strategy: resolveStrategy(config.Strategy, svc)}
}

// Analyze returns the preferences the message changed, or nil.
func (a *PreferenceAnalyzer) Analyze(ctx context.Context, message string) (*PreferenceUpdate, error) {
	switch a.strategy {
	case StrategyLLM:
		return a.llmAnalyze(ctx, message)
	case StrategyHybrid:
		update, err := a.llmAnalyze(ctx, message)
		if err != nil || update.Empty() {
			return patternPreferences(message), nil
		}
		return update, nil
	default:
		return patternPreferences(message), nil
	}
}

func (a *PreferenceAnalyzer) llmAnalyze(ctx context.Context, message string) (*PreferenceUpdate, error) {
	response, _, err := a.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(preferencePrompt, message)},
	})
	if err != nil {
		return nil, fmt.Errorf("preference call: %w", err)
	}

	payload := jsonSlice(stripCodeFence(response), '{', '}')
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in preference response")
	}
	var update PreferenceUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return nil, fmt.Errorf("parse preference JSON: %w", err)
	}
	normalizePreference(&update)
	return &update, nil
}

// normalizePreference lowercases values and drops empties so the LLM cannot
// smuggle free text into the per-user map.
func normalizePreference(u *PreferenceUpdate) {
	clean := func(p **string) {
		if *p == nil {
			return
		}
		v := strings.ToLower(strings.TrimSpace(**p))
		if v == "" || v == "null" || v == "unchanged" {
			*p = nil
			return
		}
		**p = v
	}
	clean(&u.Language)
	clean(&u.Formality)
	clean(&u.Tone)
	clean(&u.EmojiUsage)
	clean(&u.ResponseLength)
	clean(&u.ExplanationStyle)
}

func patternPreferences(message string) *PreferenceUpdate {
	lower := strings.ToLower(message)
	update := &PreferenceUpdate{}

	if m := languageRe.FindStringSubmatch(lower); m != nil {
		update.Language = ptr(m[1])
	}

	switch {
	case formalRe.MatchString(lower):
		update.Formality = ptr("formal")
	case casualRe.MatchString(lower):
		update.Formality = ptr("casual")
	}

	m := toneLeadRe.FindStringSubmatch(lower)
	if m == nil {
		m = toneTrailRe.FindStringSubmatch(lower)
	}
	if m != nil {
		tone := m[1]
		if tone == "light" {
			tone = "lighthearted"
		}
		update.Tone = ptr(tone)
	}

	switch {
	case emojiOffRe.MatchString(lower):
		update.EmojiUsage = ptr("none")
	case emojiLessRe.MatchString(lower):
		update.EmojiUsage = ptr("minimal")
	case emojiMoreRe.MatchString(lower):
		update.EmojiUsage = ptr("frequent")
	}

	switch {
	case shortRe.MatchString(lower):
		update.ResponseLength = ptr("short")
	case detailedRe.MatchString(lower):
		update.ResponseLength = ptr("detailed")
	}

	switch {
	case simpleStyleRe.MatchString(lower):
		update.ExplanationStyle = ptr("simple")
	case stepStyleRe.MatchString(lower):
		update.ExplanationStyle = ptr("step_by_step")
	case techStyleRe.MatchString(lower):
		update.ExplanationStyle = ptr("technical")
	}

	if update.Empty() {
		return nil
	}
	return update
}

func ptr(s string) *string { return &s }
