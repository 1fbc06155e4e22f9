package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
)

// TraitDeltaStep is how far one directive moves a 0..10 trait scale.
const TraitDeltaStep = 2

// PersonalityDirective is what a message asked the persona to change:
// an archetype switch, trait nudges, or behavior toggles. Nil means the
// message carried no directive.
type PersonalityDirective struct {
	Archetype   string          `json:"archetype,omitempty"`
	TraitDeltas map[string]int  `json:"trait_deltas,omitempty"`
	Behaviors   map[string]bool `json:"behaviors,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// Empty reports whether the directive changes nothing.
func (p *PersonalityDirective) Empty() bool {
	return p == nil || (p.Archetype == "" && len(p.TraitDeltas) == 0 && len(p.Behaviors) == 0)
}

const personalityPrompt = `You detect requests to change how an AI companion behaves, from one chat message. Only report what the user explicitly asked for.

Trait names (each delta is +2 or -2 on a 0-10 scale): warmth, humor, empathy, playfulness, assertiveness, curiosity, formality, flirtatiousness.
Behavior names (true/false): initiates_topics, asks_follow_ups, uses_pet_names, remembers_callbacks, adapts_to_mood.
Archetypes (only when the user asks for a wholesale persona change): caring_companion, playful_friend, romantic_muse, wise_mentor, quiet_confidante.

Message: %q

Respond with strict JSON only; omit or null anything not requested:
{"archetype": null, "trait_deltas": {}, "behaviors": {}, "confidence": 0.0}`

// traitAdjectives maps directive adjectives onto trait scales. Sign -1
// means the adjective names the opposite end of the scale, so "be more
// serious" lowers playfulness.
var traitAdjectives = map[string]struct {
	trait string
	sign  int
}{
	"playful":       {"playfulness", 1},
	"fun":           {"playfulness", 1},
	"silly":         {"playfulness", 1},
	"serious":       {"playfulness", -1},
	"funny":         {"humor", 1},
	"humorous":      {"humor", 1},
	"witty":         {"humor", 1},
	"warm":          {"warmth", 1},
	"kind":          {"warmth", 1},
	"caring":        {"warmth", 1},
	"affectionate":  {"warmth", 1},
	"distant":       {"warmth", -1},
	"empathetic":    {"empathy", 1},
	"understanding": {"empathy", 1},
	"supportive":    {"empathy", 1},
	"assertive":     {"assertiveness", 1},
	"direct":        {"assertiveness", 1},
	"confident":     {"assertiveness", 1},
	"gentle":        {"assertiveness", -1},
	"curious":       {"curiosity", 1},
	"inquisitive":   {"curiosity", 1},
	"formal":        {"formality", 1},
	"casual":        {"formality", -1},
	"flirty":        {"flirtatiousness", 1},
	"flirtatious":   {"flirtatiousness", 1},
}

// archetypeRequests maps role phrasings onto the built-in archetypes.
var archetypeRequests = map[string]string{
	"mentor":           "wise_mentor",
	"coach":            "wise_mentor",
	"teacher":          "wise_mentor",
	"romantic partner": "romantic_muse",
	"girlfriend":       "romantic_muse",
	"boyfriend":        "romantic_muse",
	"best friend":      "playful_friend",
	"friend":           "playful_friend",
	"confidante":       "quiet_confidante",
	"good listener":    "quiet_confidante",
	"caretaker":        "caring_companion",
	"companion":        "caring_companion",
}

var (
	traitDirectiveRe = regexp.MustCompile(`\b(?:be|act|sound|talk)\s+(?:a (?:bit|little) )?(more|less)\s+(\w+)`)

	archetypeDirectiveRe = regexp.MustCompile(`\b(?:act like|act as|be my|be like|you're my|you are my)\s+(?:a |an |my )?([a-z ]{3,20})`)

	petNamesOnRe  = regexp.MustCompile(`\b(?:use pet names|call me (?:babe|baby|honey|sweetheart|darling|love))\b`)
	petNamesOffRe = regexp.MustCompile(`\b(?:stop (?:using pet names|calling me (?:babe|baby|honey|sweetheart|darling|love))|no pet names|don't call me (?:babe|baby|honey|sweetheart|darling|love))\b`)
	followUpsRe   = regexp.MustCompile(`\b(?:ask me more questions|ask more questions|ask (?:me )?follow-?ups?)\b`)
	noFollowUpsRe = regexp.MustCompile(`\b(?:stop asking (?:so many )?questions|fewer questions|don't ask so many questions)\b`)
	initiateRe    = regexp.MustCompile(`\b(?:bring up topics|start conversations|pick the topic sometimes)\b`)
)

// PersonalityConfig tunes the directive detector.
type PersonalityConfig struct {
	Strategy string
}

// PersonalityDetector spots natural-language directives about how the
// persona should behave.
type PersonalityDetector struct {
	llm      llm.Service
	strategy string
}

func NewPersonalityDetector(svc llm.Service, config PersonalityConfig) *PersonalityDetector {
	return &PersonalityDetector{llm: svc, strategy: resolveStrategy(config.Strategy, svc)}
}

// Detect returns the directive a message carries, or nil.
func (d *PersonalityDetector) Detect(ctx context.Context, message string) (*PersonalityDirective, error) {
	switch d.strategy {
	case StrategyLLM:
		return d.llmDetect(ctx, message)
	case StrategyHybrid:
		directive, err := d.llmDetect(ctx, message)
		if err != nil || directive.Empty() {
			return patternDirective(message), nil
		}
		return directive, nil
	default:
		return patternDirective(message), nil
	}
}

func (d *PersonalityDetector) llmDetect(ctx context.Context, message string) (*PersonalityDirective, error) {
	response, _, err := d.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(personalityPrompt, message)},
	})
	if err != nil {
		return nil, fmt.Errorf("personality call: %w", err)
	}

	payload := jsonSlice(stripCodeFence(response), '{', '}')
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in personality response")
	}
	var directive PersonalityDirective
	if err := json.Unmarshal([]byte(payload), &directive); err != nil {
		return nil, fmt.Errorf("parse personality JSON: %w", err)
	}

	directive.Archetype = strings.ToLower(strings.TrimSpace(directive.Archetype))
	if directive.Archetype != "" && !knownArchetype(directive.Archetype) {
		directive.Archetype = ""
	}
	for trait, delta := range directive.TraitDeltas {
		if !knownTrait(trait) || delta == 0 {
			delete(directive.TraitDeltas, trait)
			continue
		}
		if delta > TraitDeltaStep {
			directive.TraitDeltas[trait] = TraitDeltaStep
		} else if delta < -TraitDeltaStep {
			directive.TraitDeltas[trait] = -TraitDeltaStep
		}
	}
	for behavior := range directive.Behaviors {
		if !knownBehavior(behavior) {
			delete(directive.Behaviors, behavior)
		}
	}
	if directive.Empty() {
		return nil, nil
	}
	return &directive, nil
}

func patternDirective(message string) *PersonalityDirective {
	lower := strings.ToLower(message)
	directive := &PersonalityDirective{Confidence: 0.8}

	for _, m := range traitDirectiveRe.FindAllStringSubmatch(lower, -1) {
		mapping, ok := traitAdjectives[m[2]]
		if !ok {
			continue
		}
		delta := TraitDeltaStep * mapping.sign
		if m[1] == "less" {
			delta = -delta
		}
		if directive.TraitDeltas == nil {
			directive.TraitDeltas = make(map[string]int)
		}
		directive.TraitDeltas[mapping.trait] = delta
	}

	if m := archetypeDirectiveRe.FindStringSubmatch(lower); m != nil {
		requested := strings.TrimSpace(m[1])
		for phrase, archetype := range archetypeRequests {
			if strings.HasPrefix(requested, phrase) {
				directive.Archetype = archetype
				break
			}
		}
	}

	behaviors := make(map[string]bool)
	if petNamesOffRe.MatchString(lower) {
		behaviors["uses_pet_names"] = false
	} else if petNamesOnRe.MatchString(lower) {
		behaviors["uses_pet_names"] = true
	}
	if noFollowUpsRe.MatchString(lower) {
		behaviors["asks_follow_ups"] = false
	} else if followUpsRe.MatchString(lower) {
		behaviors["asks_follow_ups"] = true
	}
	if initiateRe.MatchString(lower) {
		behaviors["initiates_topics"] = true
	}
	if len(behaviors) > 0 {
		directive.Behaviors = behaviors
	}

	if directive.Empty() {
		return nil
	}
	return directive
}

func knownTrait(name string) bool {
	switch name {
	case "warmth", "humor", "empathy", "playfulness", "assertiveness",
		"curiosity", "formality", "flirtatiousness":
		return true
	}
	return false
}

func knownBehavior(name string) bool {
	switch name {
	case "initiates_topics", "asks_follow_ups", "uses_pet_names",
		"remembers_callbacks", "adapts_to_mood":
		return true
	}
	return false
}

func knownArchetype(name string) bool {
	switch name {
	case "caring_companion", "playful_friend", "romantic_muse",
		"wise_mentor", "quiet_confidante":
		return true
	}
	return false
}
