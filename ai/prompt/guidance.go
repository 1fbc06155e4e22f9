package prompt

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/store"
)

// traitBands holds instructional prose per trait for the low (0-3),
// mid (4-6), and high (7-10) bands of the 0-10 scale.
var traitBands = map[string][3]string{
	"warmth": {
		"Stay friendly but reserved; keep some emotional distance.",
		"Be warm in a low-key way.",
		"Be openly warm, caring, and affectionate.",
	},
	"humor": {
		"Keep humor to a minimum.",
		"Joke occasionally when it fits.",
		"Be quick to joke and keep things light.",
	},
	"empathy": {
		"Acknowledge feelings briefly and move on.",
		"Validate feelings before offering thoughts.",
		"Lead with empathy; reflect feelings back before anything else.",
	},
	"playfulness": {
		"Stay grounded and serious.",
		"Allow a playful aside now and then.",
		"Be playful and teasing whenever the mood allows.",
	},
	"assertiveness": {
		"Offer suggestions gently and defer to the user.",
		"Give direct opinions when asked.",
		"State your opinions confidently, even unprompted.",
	},
	"curiosity": {
		"Let the user steer; ask little.",
		"Ask a follow-up question when something seems important.",
		"Be actively curious; dig into what the user shares.",
	},
	"formality": {
		"Use relaxed, informal language.",
		"Keep language conversational but composed.",
		"Use polished, formal language.",
	},
	"flirtatiousness": {
		"Do not flirt.",
		"A light compliment is fine when invited.",
		"Flirt openly and affectionately.",
	},
}

func traitGuidance(name string, value int) string {
	bands, ok := traitBands[name]
	if !ok {
		return ""
	}
	switch {
	case value <= 3:
		return bands[0]
	case value <= 6:
		return bands[1]
	default:
		return bands[2]
	}
}

func traitsSection(p *store.Personality) string {
	if p == nil {
		return ""
	}

	t := p.Traits
	traits := []struct {
		name  string
		value int
	}{
		{"warmth", t.Warmth},
		{"humor", t.Humor},
		{"empathy", t.Empathy},
		{"playfulness", t.Playfulness},
		{"assertiveness", t.Assertiveness},
		{"curiosity", t.Curiosity},
		{"formality", t.Formality},
		{"flirtatiousness", t.Flirtatiousness},
	}

	var b strings.Builder
	b.WriteString("How to carry yourself:")
	for _, trait := range traits {
		if line := traitGuidance(trait.name, trait.value); line != "" {
			b.WriteString("\n- " + line)
		}
	}
	for _, line := range behaviorGuidance(p.Behaviors) {
		b.WriteString("\n- " + line)
	}
	return b.String()
}

func behaviorGuidance(b store.PersonalityBehaviors) []string {
	var lines []string
	if b.InitiatesTopics {
		lines = append(lines, "Bring up new topics yourself when the conversation lulls.")
	}
	if b.AsksFollowUps {
		lines = append(lines, "Ask follow-up questions about things the user mentions.")
	}
	if b.UsesPetNames {
		lines = append(lines, "Pet names and terms of endearment are welcome.")
	} else {
		lines = append(lines, "Do not use pet names.")
	}
	if b.RemembersCallbacks {
		lines = append(lines, "Call back to earlier conversations when relevant.")
	}
	if b.AdaptsToMood {
		lines = append(lines, "Match your energy to the user's current mood.")
	}
	return lines
}

// emotionGuidance maps each known emotion to a tone strategy for the
// current turn.
var emotionGuidance = map[string]string{
	"happy":        "Match their upbeat energy and celebrate with them.",
	"excited":      "Share the excitement and ask about the details.",
	"sad":          "Be gentle and validating. Comfort first; solutions only if asked.",
	"angry":        "Stay calm and steady. Acknowledge the frustration without feeding it.",
	"anxious":      "Be reassuring and concrete. Help break the worry into smaller pieces.",
	"lonely":       "Be present and attentive. Make it clear you are glad they came to talk.",
	"tired":        "Keep it gentle and undemanding. Do not push for decisions.",
	"affectionate": "Reciprocate the warmth in a way that fits your relationship.",
}

var negativeEmotions = map[string]bool{
	"sad": true, "angry": true, "anxious": true, "lonely": true, "tired": true,
}

// moodTrendWindow is how many recent persisted emotions the declining
// trend flag looks at.
const moodTrendWindow = 5

func moodDeclining(recent []*store.EmotionEntry) bool {
	if len(recent) > moodTrendWindow {
		recent = recent[:moodTrendWindow]
	}
	if len(recent) < 3 {
		return false
	}
	negatives := 0
	for _, e := range recent {
		if negativeEmotions[e.Emotion] {
			negatives++
		}
	}
	return negatives >= 3
}

func emotionSection(current *analyzers.EmotionResult, recent []*store.EmotionEntry) string {
	var b strings.Builder
	if current != nil {
		if guidance, ok := emotionGuidance[current.Emotion]; ok {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("The user seems " + current.Emotion)
			if current.Intensity == store.EmotionIntensityHigh {
				b.WriteString(", strongly so")
			}
			b.WriteString(" right now. " + guidance)
		}
	}
	if moodDeclining(recent) {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Their mood has trended low across recent conversations; gently check in on how they have been doing.")
	}
	return b.String()
}

func preferencesSection(prefs *store.UserPreferences) string {
	if prefs == nil || prefs.Empty() {
		return ""
	}

	var lines []string
	if prefs.Language != "" {
		lines = append(lines, "Respond only in "+cases.Title(language.English).String(prefs.Language)+".")
	}
	switch prefs.Formality {
	case "formal":
		lines = append(lines, "Maintain a formal register.")
	case "casual":
		lines = append(lines, "Keep the register casual and relaxed.")
	}
	if prefs.Tone != "" {
		lines = append(lines, "Keep your tone "+prefs.Tone+".")
	}
	switch prefs.EmojiUsage {
	case "none":
		lines = append(lines, "Do not use emojis.")
	case "minimal":
		lines = append(lines, "Use emojis sparingly, at most one per message.")
	case "frequent":
		lines = append(lines, "Use emojis freely.")
	}
	switch prefs.ResponseLength {
	case "short":
		lines = append(lines, "Keep responses to a few sentences.")
	case "medium":
		lines = append(lines, "Keep responses moderate in length.")
	case "detailed":
		lines = append(lines, "Give thorough, detailed responses.")
	}
	switch prefs.ExplanationStyle {
	case "simple":
		lines = append(lines, "Explain things in plain, simple terms.")
	case "technical":
		lines = append(lines, "Do not shy away from technical depth.")
	case "step_by_step":
		lines = append(lines, "Walk through explanations step by step.")
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Hard requirements from the user. These override any other guidance above:")
	for _, line := range lines {
		b.WriteString("\n- " + line)
	}
	return b.String()
}
