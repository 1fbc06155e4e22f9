package orchestrator

// Relationship depth grows with message volume and time known, each capped
// so neither alone can max the score. Trust accrues the same way but more
// slowly. Both land in [0,10].
func relationshipScores(totalMessages int64, daysKnown int) (depth, trust float64) {
	msgs := float64(totalMessages)
	days := float64(daysKnown)

	depth = minFloat(6, msgs/50) + minFloat(4, days/30)
	trust = minFloat(5, msgs/200) + minFloat(5, days/36.5)
	return depth, trust
}

type milestone struct {
	key      string
	messages int64
	days     int
}

// Thresholds are checked in order; a milestone is appended once and never
// removed.
var milestoneTable = []milestone{
	{key: "10_messages", messages: 10},
	{key: "100_messages", messages: 100},
	{key: "500_messages", messages: 500},
	{key: "1000_messages", messages: 1000},
	{key: "first_week", days: 7},
	{key: "first_month", days: 30},
	{key: "six_months", days: 180},
	{key: "first_year", days: 365},
}

// newMilestones returns the full milestone list with newly crossed
// thresholds appended, or nil when nothing changed.
func newMilestones(totalMessages int64, daysKnown int, existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, key := range existing {
		have[key] = true
	}

	updated := existing
	changed := false
	for _, m := range milestoneTable {
		if have[m.key] {
			continue
		}
		if (m.messages > 0 && totalMessages >= m.messages) ||
			(m.days > 0 && daysKnown >= m.days) {
			updated = append(updated, m.key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return updated
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
