package moderation

import "regexp"

// requestWeight multiplies explicit-request hits: one direct ask for sexual
// content carries as much signal as three incidental vocabulary matches.
const requestWeight = 3

// Pattern families for Layer 3 scoring. All matching runs against
// normalized text, so the vocabularies are lowercase with leetspeak and
// emoji already decoded.
var (
	anatomyRe = regexp.MustCompile(`\b(?:dick|cock|penis|pussy|vagina|clit(?:oris)?|tits?|boob[sz]?|breasts?|nipples?|ass(?:hole)?|butt|cum|semen|cunt|genitals?|crotch|groin|scrotum)\b`)

	actsRe = regexp.MustCompile(`\b(?:fuck(?:s|ed|ing|er)?|sex|blowjob|handjob|rimjob|anal|orgasms?|climax(?:ed|ing)?|masturbat(?:e|es|ed|ing|ion)|jerk(?:s|ed|ing)?\s+off|threesome|intercourse|penetrat(?:e|es|ed|ing|ion)|thrust(?:s|ed|ing)?|moan(?:s|ed|ing)?|horny|nudes?|naked|erotic|striptease|deepthroat)\b`)

	fetishRe = regexp.MustCompile(`\b(?:bdsm|bondage|dominatrix|dominat(?:e|es|ed|ing|ion)|submissives?|spank(?:s|ed|ing)?|whip(?:ped|ping)?|flogg(?:ed|ing)|shibari|latex|fetish(?:es)?|kink(?:y|s)?|collar(?:ed)?|leash(?:ed)?|safeword|degrad(?:e|es|ed|ing|ation)|humiliat(?:e|es|ed|ing|ion)|pegging|femdom|breathplay|(?:yes|my)\s+master|mistress|tie(?:d)?\s+(?:me|you)\s+up|restraints?)\b`)

	suggestiveRe = regexp.MustCompile(`\b(?:sexy|naughty|flirt(?:s|ed|ing|y)?|kiss(?:es|ed|ing)?|cuddl(?:e|es|ed|ing)|snuggl(?:e|es|ed|ing)|teas(?:e|es|ed|ing)|spicy|seduc(?:e|es|ed|ing|tive)|lingerie|romanti?c(?:ally)?|romance|make\s+out|making\s+out|turn(?:s|ed)?\s+(?:me|you)\s+on|sweetheart|babe|darling|sensual|intimate|intimacy|bedroom\s+eyes|blush(?:es|ed|ing)?|wink(?:s|ed|ing)?)\b`)

	requestRe = regexp.MustCompile(`(?:\btalk\s+dirty\b|\bdirty\s+talk\b|\bsext(?:s|ed|ing)?\b|\b(?:send|show)\s+(?:me\s+)?(?:your\s+)?(?:nudes?|naked|tits|boobs)\b|\bdescribe\s+your\s+body\b|\bwhat\s+are\s+you\s+wearing\b|\bstrip\s+for\s+me\b|\broleplay\s+sex\b|\berotic\s+(?:story|roleplay|chat)\b|\bnsfw\b)`)
)

// familyHits is the result of one pattern scan over normalized text.
type familyHits struct {
	Anatomy    int
	Acts       int
	Fetish     int
	Suggestive int
	Request    int

	Indicators []string
}

// WeightedRequest is the request count scaled by requestWeight.
func (h familyHits) WeightedRequest() int {
	return h.Request * requestWeight
}

// AnatomyActs is the combined explicit-vocabulary count.
func (h familyHits) AnatomyActs() int {
	return h.Anatomy + h.Acts
}

// Families counts how many families matched at least once.
func (h familyHits) Families() int {
	n := 0
	for _, c := range []int{h.Anatomy, h.Acts, h.Fetish, h.Suggestive, h.Request} {
		if c > 0 {
			n++
		}
	}
	return n
}

// SexualContext reports whether explicit vocabulary is present. Suggestive
// terms alone do not count; "my kid blew kisses" must not read as sexual.
func (h familyHits) SexualContext() bool {
	return h.Anatomy+h.Acts+h.Fetish+h.Request > 0
}

func scanFamilies(text string) familyHits {
	var hits familyHits
	seen := make(map[string]bool)
	collect := func(re *regexp.Regexp) int {
		matches := re.FindAllString(text, -1)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				hits.Indicators = append(hits.Indicators, m)
			}
		}
		return len(matches)
	}
	hits.Anatomy = collect(anatomyRe)
	hits.Acts = collect(actsRe)
	hits.Fetish = collect(fetishRe)
	hits.Suggestive = collect(suggestiveRe)
	hits.Request = collect(requestRe)
	return hits
}

// scorePatterns applies the Layer 3 decision ladder to family counts.
func scorePatterns(hits familyHits) (Label, float64) {
	switch {
	case hits.Fetish >= 1:
		return LabelFetish, min(0.65+0.15*float64(hits.Fetish), 1.0)
	case hits.AnatomyActs() >= 3 || hits.WeightedRequest() >= 3:
		n := float64(hits.AnatomyActs() + hits.WeightedRequest())
		return LabelExplicit, min(0.7+0.05*n, 1.0)
	case hits.AnatomyActs() >= 1 || hits.WeightedRequest() >= 1:
		return LabelExplicit, 0.6
	case hits.Suggestive >= 2:
		return LabelSuggestive, min(0.6+0.1*float64(hits.Suggestive), 0.9)
	default:
		return LabelSafe, 0.95
	}
}
