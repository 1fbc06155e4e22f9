// Package moderation classifies user messages into content labels through
// four layers: normalization, hard rules, pattern scoring, and an optional
// LLM judge.
package moderation

// Label is a content classification.
type Label string

const (
	LabelSafe          Label = "SAFE"
	LabelSuggestive    Label = "SUGGESTIVE"
	LabelExplicit      Label = "EXPLICIT_CONSENSUAL_ADULT"
	LabelFetish        Label = "EXPLICIT_FETISH"
	LabelNonconsensual Label = "NONCONSENSUAL"
	LabelMinorRisk     Label = "MINOR_RISK"
)

var riskOrder = map[Label]int{
	LabelSafe:          0,
	LabelSuggestive:    1,
	LabelExplicit:      2,
	LabelFetish:        3,
	LabelNonconsensual: 4,
	LabelMinorRisk:     5,
}

// RiskRank orders labels from harmless to hard-blocked. Unknown labels rank
// as SAFE.
func (l Label) RiskRank() int {
	return riskOrder[l]
}

// HardBlock reports whether the label terminates classification immediately.
func (l Label) HardBlock() bool {
	return l == LabelNonconsensual || l == LabelMinorRisk
}

// ParseLabel validates a label string, e.g. from the LLM judge.
func ParseLabel(s string) (Label, bool) {
	label := Label(s)
	_, ok := riskOrder[label]
	return label, ok
}
