package moderation

import "regexp"

// Layer 2 hard rules. Minor-risk and coercion hits dominate every later
// layer, including the LLM judge. Clinical context short-circuits to SAFE so
// anatomy vocabulary in a medical question does not trip Layer 3.
var (
	// Terms that signal a minor on their own, no context needed.
	minorTermRe = regexp.MustCompile(`\b(?:teen(?:s|age(?:rs?|d)?)?|under[- ]?age[d]?|jail[- ]?bait|loli|shota|pre[- ]?teen|school\s?(?:girl|boy)s?|(?:high|middle)\s+school|barely\s+legal)\b`)

	// Ages 17 and below, numeric or spelled out. Only a risk signal when
	// the message also carries sexual vocabulary.
	ageMentionRe = regexp.MustCompile(`\b(?:1[0-7]|[1-9]|(?:thir|four|fif|six|seven|eigh|nine)teen)\s*(?:years?[- ]old|yrs?[- ]old|yo|y/o)\b`)

	// Generic minor nouns, likewise only risky alongside sexual context.
	minorNounRe = regexp.MustCompile(`\b(?:child(?:ren)?|kids?|minors?|little\s+(?:girl|boy)s?)\b`)

	// Coercion vocabulary that is unambiguous on its own.
	coercionHardRe = regexp.MustCompile(`\b(?:rap(?:e[ds]?|ing|ist)|molest(?:s|ed|ing|ation)?|non[- ]?consensual|against\s+(?:her|his|their)\s+will|can(?:'|no)?t\s+say\s+no)\b`)

	// Coercion verbs with mundane readings; require sexual context so
	// "forced to cancel my plans" stays out of the refusal path.
	coercionContextRe = regexp.MustCompile(`\b(?:forc(?:e[ds]?|ing)|drugg(?:ed|ing)|kidnapp?(?:ed|ing)?|blackmail(?:ed|ing)?|held\s+(?:her|him|them|me)\s+down)\b`)

	clinicalRe = regexp.MustCompile(`\b(?:doctor|physician|nurse|gynecolog(?:y|ist)|urolog(?:y|ist)|pediatric(?:s|ian)?|medical|medicine|medication|clinic(?:al)?|diagnos(?:is|ed|tic)?|symptoms?|biolog(?:y|ical)|anatomy\s+(?:class|exam|lesson|homework)|health\s+class|therap(?:y|ist)|puberty|menstrua(?:l|tion)|contracepti(?:on|ve))\b`)
)

// hardRuleHit records which Layer 2 rule fired, for diagnostics.
type hardRuleHit struct {
	Label      Label
	Confidence float64
	Rule       string
	Indicators []string
}

// applyHardRules checks normalized text against the hard-rule families.
// sexualContext comes from the Layer 3 scan and gates the context-dependent
// families. A nil return means no hard rule applies.
func applyHardRules(text string, sexualContext bool) *hardRuleHit {
	if m := minorTermRe.FindAllString(text, -1); len(m) > 0 {
		return &hardRuleHit{Label: LabelMinorRisk, Confidence: 1.0, Rule: "minor_term", Indicators: m}
	}
	if sexualContext {
		if m := ageMentionRe.FindAllString(text, -1); len(m) > 0 {
			return &hardRuleHit{Label: LabelMinorRisk, Confidence: 1.0, Rule: "age_with_sexual_context", Indicators: m}
		}
		if m := minorNounRe.FindAllString(text, -1); len(m) > 0 {
			return &hardRuleHit{Label: LabelMinorRisk, Confidence: 1.0, Rule: "minor_noun_with_sexual_context", Indicators: m}
		}
	}
	if m := coercionHardRe.FindAllString(text, -1); len(m) > 0 {
		return &hardRuleHit{Label: LabelNonconsensual, Confidence: 1.0, Rule: "coercion", Indicators: m}
	}
	if sexualContext {
		if m := coercionContextRe.FindAllString(text, -1); len(m) > 0 {
			return &hardRuleHit{Label: LabelNonconsensual, Confidence: 1.0, Rule: "coercion_with_sexual_context", Indicators: m}
		}
	}
	if m := clinicalRe.FindAllString(text, -1); len(m) > 0 {
		return &hardRuleHit{Label: LabelSafe, Confidence: 0.9, Rule: "clinical_context", Indicators: m}
	}
	return nil
}
