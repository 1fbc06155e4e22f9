package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/store"
)

// DefaultGoalMatchScore is the keyword-overlap floor for tying a message to
// an existing active goal.
const DefaultGoalMatchScore = 0.3

// maxGoalSignals bounds how many signals one message can produce.
const maxGoalSignals = 2

// GoalSignalKind says what a message did to a goal.
type GoalSignalKind string

const (
	GoalSignalNew        GoalSignalKind = "new"
	GoalSignalMention    GoalSignalKind = "mention"
	GoalSignalProgress   GoalSignalKind = "progress"
	GoalSignalSetback    GoalSignalKind = "setback"
	GoalSignalCompletion GoalSignalKind = "completion"
)

// ProgressType maps a signal kind onto the stored progress-event type.
// New-goal signals have no progress type.
func (k GoalSignalKind) ProgressType() store.GoalProgressType {
	switch k {
	case GoalSignalMention:
		return store.GoalProgressMention
	case GoalSignalProgress:
		return store.GoalProgressUpdate
	case GoalSignalSetback:
		return store.GoalProgressSetback
	case GoalSignalCompletion:
		return store.GoalProgressCompletion
	}
	return ""
}

// GoalSignal is one goal-related finding in a user message. GoalID is set
// when an existing active goal matched; Title is set for new declarations.
type GoalSignal struct {
	Kind       GoalSignalKind `json:"kind"`
	GoalID     string         `json:"goal_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Category   string         `json:"category,omitempty"`
	Motivation string         `json:"motivation,omitempty"`
	TargetTs   int64          `json:"target_ts,omitempty"`
	Note       string         `json:"note"`
	Confidence float64        `json:"confidence"`
}

const goalPrompt = `You detect goal-related statements in one chat message from a user.

Signal kinds:
- "new": the user declares a goal they are starting ("I want to run a marathon")
- "progress": they report progress on one of their active goals
- "setback": they report slipping or struggling on an active goal
- "completion": they report finishing an active goal
- "mention": they bring up an active goal without clear progress either way

Active goals (match "goal_title" to one of these exactly when referring to an existing goal):
%s

Message: %q

Respond with a strict JSON array, [] when the message is not about goals:
[{"kind": "new", "goal_title": "", "title": "short goal title for new goals", "category": "fitness|learning|career|health|finance|creative|social|other", "motivation": "", "target_date": "", "confidence": 0.0}]`

var (
	newGoalRe = regexp.MustCompile(`\b(?:i want to|i'm going to|i am going to|i plan to|i'm planning to|my goal is to|i've decided to|i decided to|i'm trying to|i aim to|my resolution is to)\s+([^.!?,]{3,80})`)

	goalProgressRe   = regexp.MustCompile(`\b(?:making progress|making good progress|getting better at|going well|improving|halfway|almost done|on track|stuck to|kept up with|practiced|practised)\b`)
	goalSetbackRe    = regexp.MustCompile(`\b(?:gave up|giving up|struggling with|struggling to|fell off|skipped|keep skipping|failing at|setback|behind on|slipping|relapsed|haven't been able to)\b`)
	goalCompletionRe = regexp.MustCompile(`\b(?:finally (?:did|finished|completed|achieved)|i (?:did|finished|completed|achieved) it|reached my goal|finished my|completed my|done with my|accomplished my)\b`)

	goalMotivationRe = regexp.MustCompile(`\b(?:because|so that|so i can)\s+([^.!?]{3,120})`)

	goalTargetMonthRe    = regexp.MustCompile(`\bby (january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(\d{4}))?\b`)
	goalTargetRelativeRe = regexp.MustCompile(`\b(?:by|within) (?:the )?(?:next |this )?(week|month|year)\b|\bin (\d{1,3}) (days?|weeks?|months?)\b`)
)

// goalCategoryKeywords classifies a goal title or sentence into the stored
// category set.
var goalCategoryKeywords = map[string][]string{
	"fitness":  {"gym", "run", "running", "marathon", "weight", "exercise", "workout", "muscle", "lift", "5k", "10k", "swim"},
	"learning": {"learn", "course", "study", "studying", "language", "read", "book", "degree", "exam", "certification"},
	"career":   {"job", "promotion", "career", "interview", "business", "startup", "freelance", "portfolio", "raise"},
	"health":   {"quit smoking", "smoking", "sleep", "diet", "eat", "drink less", "drinking", "meditate", "meditation", "therapy", "sober"},
	"finance":  {"save", "saving", "money", "debt", "budget", "invest", "investing", "down payment"},
	"creative": {"write", "writing", "novel", "paint", "painting", "draw", "drawing", "music", "song", "album", "photography"},
	"social":   {"friends", "friend", "family", "date", "dating", "social", "meet people", "reconnect"},
}

var goalTitleStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "my": true, "of": true,
	"for": true, "and": true, "this": true, "that": true, "with": true,
	"i": true, "in": true, "on": true, "at": true, "be": true, "get": true,
	"more": true, "some": true, "all": true, "by": true,
}

// GoalConfig tunes the goal detector.
type GoalConfig struct {
	Strategy   string
	MatchScore float64
}

// GoalDetector finds new goal declarations and updates on existing goals.
type GoalDetector struct {
	llm        llm.Service
	strategy   string
	matchScore float64
	now        func() time.Time
}

func NewGoalDetector(svc llm.Service, config GoalConfig) *GoalDetector {
	if config.MatchScore <= 0 {
		config.MatchScore = DefaultGoalMatchScore
	}
	return &GoalDetector{
		llm:        svc,
		strategy:   resolveStrategy(config.Strategy, svc),
		matchScore: config.MatchScore,
		now:        time.Now,
	}
}

// Detect returns the goal signals in a message, at most two. activeGoals
// are the user's current active goals for existing-goal matching.
func (d *GoalDetector) Detect(ctx context.Context, message string, activeGoals []*store.Goal) ([]GoalSignal, error) {
	switch d.strategy {
	case StrategyLLM:
		return d.llmDetect(ctx, message, activeGoals)
	case StrategyHybrid:
		signals, err := d.llmDetect(ctx, message, activeGoals)
		if err != nil || len(signals) == 0 {
			return d.patternDetect(message, activeGoals), nil
		}
		return signals, nil
	default:
		return d.patternDetect(message, activeGoals), nil
	}
}

func (d *GoalDetector) llmDetect(ctx context.Context, message string, activeGoals []*store.Goal) ([]GoalSignal, error) {
	titles := make([]string, 0, len(activeGoals))
	for _, g := range activeGoals {
		titles = append(titles, "- "+g.Title)
	}
	titleBlock := strings.Join(titles, "\n")
	if titleBlock == "" {
		titleBlock = "(none)"
	}

	response, _, err := d.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(goalPrompt, titleBlock, message)},
	})
	if err != nil {
		return nil, fmt.Errorf("goal call: %w", err)
	}

	payload := jsonSlice(stripCodeFence(response), '[', ']')
	if payload == "" {
		return nil, fmt.Errorf("no JSON array in goal response")
	}
	var raw []struct {
		Kind       string  `json:"kind"`
		GoalTitle  string  `json:"goal_title"`
		Title      string  `json:"title"`
		Category   string  `json:"category"`
		Motivation string  `json:"motivation"`
		TargetDate string  `json:"target_date"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("parse goal JSON: %w", err)
	}

	var signals []GoalSignal
	for _, item := range raw {
		kind := GoalSignalKind(strings.ToLower(strings.TrimSpace(item.Kind)))
		signal := GoalSignal{
			Kind:       kind,
			Note:       message,
			Confidence: item.Confidence,
		}
		switch kind {
		case GoalSignalNew:
			signal.Title = strings.TrimSpace(item.Title)
			if signal.Title == "" {
				continue
			}
			signal.Category = normalizeGoalCategory(item.Category, signal.Title)
			signal.Motivation = strings.TrimSpace(item.Motivation)
			signal.TargetTs = d.parseTargetDate(strings.ToLower(item.TargetDate))
		case GoalSignalMention, GoalSignalProgress, GoalSignalSetback, GoalSignalCompletion:
			goal := bestGoalMatch(item.GoalTitle, activeGoals, d.matchScore)
			if goal == nil {
				goal = bestGoalMatch(message, activeGoals, d.matchScore)
			}
			if goal == nil {
				continue
			}
			signal.GoalID = goal.ID
			signal.Title = goal.Title
		default:
			continue
		}
		signals = append(signals, signal)
		if len(signals) >= maxGoalSignals {
			break
		}
	}
	return signals, nil
}

func (d *GoalDetector) patternDetect(message string, activeGoals []*store.Goal) []GoalSignal {
	lower := strings.ToLower(message)
	var signals []GoalSignal

	// Updates on an existing goal take priority over re-declarations.
	if matched := bestGoalMatch(lower, activeGoals, d.matchScore); matched != nil {
		kind := GoalSignalMention
		switch {
		case goalCompletionRe.MatchString(lower):
			kind = GoalSignalCompletion
		case goalSetbackRe.MatchString(lower):
			kind = GoalSignalSetback
		case goalProgressRe.MatchString(lower):
			kind = GoalSignalProgress
		}
		signals = append(signals, GoalSignal{
			Kind:       kind,
			GoalID:     matched.ID,
			Title:      matched.Title,
			Note:       message,
			Confidence: 0.7,
		})
	}

	if m := newGoalRe.FindStringSubmatch(lower); m != nil {
		title := trimGoalTitle(m[1])
		// A declaration that overlaps an already-tracked goal is a
		// mention, which the block above has covered.
		if title != "" && bestGoalMatch(title, activeGoals, d.matchScore) == nil {
			signal := GoalSignal{
				Kind:       GoalSignalNew,
				Title:      title,
				Category:   normalizeGoalCategory("", title),
				TargetTs:   d.parseTargetDate(lower),
				Note:       message,
				Confidence: 0.7,
			}
			if mm := goalMotivationRe.FindStringSubmatch(lower); mm != nil {
				signal.Motivation = strings.TrimSpace(mm[1])
			}
			signals = append(signals, signal)
		}
	}

	if len(signals) > maxGoalSignals {
		signals = signals[:maxGoalSignals]
	}
	return signals
}

// bestGoalMatch scores keyword overlap between the text and each goal
// title: |shared content words| / |title content words|.
func bestGoalMatch(text string, goals []*store.Goal, minScore float64) *store.Goal {
	words := goalContentWords(text)
	if len(words) == 0 {
		return nil
	}

	var best *store.Goal
	bestScore := 0.0
	for _, g := range goals {
		titleWords := goalContentWords(g.Title)
		if len(titleWords) == 0 {
			continue
		}
		shared := 0
		for w := range titleWords {
			if words[w] {
				shared++
			}
		}
		score := float64(shared) / float64(len(titleWords))
		if score > bestScore {
			best = g
			bestScore = score
		}
	}
	if bestScore < minScore {
		return nil
	}
	return best
}

// trimGoalTitle cuts motivation and target-date clauses out of a captured
// goal title: "run a marathon by december because..." keeps "run a marathon".
func trimGoalTitle(title string) string {
	for _, marker := range []string{" because ", " so that ", " so i can "} {
		if idx := strings.Index(title, marker); idx != -1 {
			title = title[:idx]
		}
	}
	if loc := goalTargetMonthRe.FindStringIndex(title); loc != nil {
		title = title[:loc[0]]
	}
	if loc := goalTargetRelativeRe.FindStringIndex(title); loc != nil {
		title = title[:loc[0]]
	}
	return strings.TrimSpace(title)
}

func goalContentWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if len(w) < 2 || goalTitleStopwords[w] {
			continue
		}
		words[w] = true
	}
	return words
}

func normalizeGoalCategory(category, title string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if _, known := goalCategoryKeywords[category]; known {
		return category
	}
	lower := strings.ToLower(title)
	for cat, keywords := range goalCategoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return "other"
}

// parseTargetDate resolves phrases like "by december", "by 2027", "by next
// month", or "in 30 days" to a Unix timestamp. Returns 0 when no target is
// stated.
func (d *GoalDetector) parseTargetDate(lower string) int64 {
	now := d.now().UTC()

	if m := goalTargetMonthRe.FindStringSubmatch(lower); m != nil {
		month := monthByName(m[1])
		year := now.Year()
		if m[2] != "" {
			if y, err := strconv.Atoi(m[2]); err == nil {
				year = y
			}
		} else if month <= now.Month() {
			year++
		}
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Unix()
	}

	if m := goalTargetRelativeRe.FindStringSubmatch(lower); m != nil {
		switch m[1] {
		case "week":
			return now.AddDate(0, 0, 7).Unix()
		case "month":
			return now.AddDate(0, 1, 0).Unix()
		case "year":
			return now.AddDate(1, 0, 0).Unix()
		}
		if n, err := strconv.Atoi(m[2]); err == nil {
			switch {
			case strings.HasPrefix(m[3], "day"):
				return now.AddDate(0, 0, n).Unix()
			case strings.HasPrefix(m[3], "week"):
				return now.AddDate(0, 0, 7*n).Unix()
			case strings.HasPrefix(m[3], "month"):
				return now.AddDate(0, n, 0).Unix()
			}
		}
	}
	return 0
}

func monthByName(name string) time.Month {
	months := map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
	return months[name]
}
