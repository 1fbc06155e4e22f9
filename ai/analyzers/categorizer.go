package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/reveriehq/reverie/ai/core/llm"
)

// maxEntities bounds how many entities one memory carries.
const maxEntities = 8

// Categorization labels a stored memory and names the entities it mentions.
type Categorization struct {
	Category string   `json:"category"`
	Entities []string `json:"entities"`
}

const categorizerPrompt = `You label one memory about a user with a category and the entities it mentions.

Categories: work, relationships, health, hobbies, food, travel, entertainment, finance, education, daily_life.
Entities are proper nouns and dates: people, places, organizations, titles, and concrete dates.

Memory: %q

Respond with strict JSON only:
{"category": "daily_life", "entities": []}`

// memoryCategoryKeywords classifies memory content by surface terms.
// First matching category in table order wins; order goes from specific
// to general.
var memoryCategoryOrder = []string{
	"work", "health", "finance", "education", "travel",
	"food", "entertainment", "hobbies", "relationships",
}

var memoryCategoryKeywords = map[string][]string{
	"work":          {"job", "work", "boss", "office", "meeting", "coworker", "colleague", "project", "deadline", "shift", "career", "promotion", "hired", "fired"},
	"health":        {"doctor", "sick", "illness", "allergy", "allergic", "medication", "sleep", "insomnia", "therapy", "anxiety", "diet", "injury", "surgery", "headache"},
	"finance":       {"money", "salary", "rent", "mortgage", "savings", "debt", "budget", "invest", "bills"},
	"education":     {"school", "university", "college", "degree", "studying", "studies", "exam", "class", "course", "thesis"},
	"travel":        {"trip", "travel", "flight", "vacation", "holiday", "visited", "visiting", "abroad", "airport", "hotel"},
	"food":          {"food", "cook", "cooking", "restaurant", "coffee", "tea", "dinner", "lunch", "breakfast", "recipe", "vegetarian", "vegan", "allergic to"},
	"entertainment": {"movie", "film", "show", "series", "music", "band", "album", "concert", "game", "gaming", "book", "novel", "podcast"},
	"hobbies":       {"hobby", "hiking", "running", "gym", "painting", "drawing", "photography", "gardening", "knitting", "climbing", "fishing", "chess", "collect"},
	"relationships": {"wife", "husband", "partner", "girlfriend", "boyfriend", "mother", "father", "mom", "dad", "sister", "brother", "son", "daughter", "friend", "family", "dog", "cat", "married", "divorced", "dating"},
}

const monthAlternation = `january|february|march|april|may|june|july|august|september|october|november|december`

var (
	// properNounRe finds capitalized runs: "Lisbon", "New York", "Aunt May".
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

	// dateEntityRe finds concrete date mentions. Bare month names only
	// count after a time preposition, so the modal "may" stays out.
	dateEntityRe = regexp.MustCompile(`\b(?:in|by|on|since|until|next|last|this|early|late)\s+(` + monthAlternation + `)\b|\b(?:` + monthAlternation + `)\s+\d{1,2}(?:,?\s+\d{4})?\b|\b\d{4}-\d{2}-\d{2}\b`)
)

// entityStoplist drops sentence-leading words and generic nouns the proper
// noun heuristic picks up.
var entityStoplist = map[string]bool{
	"user": true, "the": true, "they": true, "their": true, "i": true,
	"a": true, "an": true, "my": true, "his": true, "her": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"yesterday": true, "today": true, "tomorrow": true,
}

// CategorizerConfig tunes memory categorization.
type CategorizerConfig struct {
	Strategy string
}

// Categorizer labels stored memories with a category and entity list.
type Categorizer struct {
	llm      llm.Service
	strategy string
}

func NewCategorizer(svc llm.Service, config CategorizerConfig) *Categorizer {
	return &Categorizer{llm: svc, strategy: resolveStrategy(config.Strategy, svc)}
}

// Categorize labels one memory's content. The pattern and hybrid
// strategies always return a result; the fallback category is daily_life.
func (c *Categorizer) Categorize(ctx context.Context, content string) (*Categorization, error) {
	switch c.strategy {
	case StrategyLLM:
		return c.llmCategorize(ctx, content)
	case StrategyHybrid:
		result, err := c.llmCategorize(ctx, content)
		if err != nil {
			return patternCategorize(content), nil
		}
		return result, nil
	default:
		return patternCategorize(content), nil
	}
}

func (c *Categorizer) llmCategorize(ctx context.Context, content string) (*Categorization, error) {
	response, _, err := c.llm.ChatJSON(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(categorizerPrompt, content)},
	})
	if err != nil {
		return nil, fmt.Errorf("categorizer call: %w", err)
	}

	payload := jsonSlice(stripCodeFence(response), '{', '}')
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in categorizer response")
	}
	var result Categorization
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("parse categorizer JSON: %w", err)
	}

	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	if _, known := memoryCategoryKeywords[result.Category]; !known && result.Category != "daily_life" {
		result.Category = "daily_life"
	}
	if len(result.Entities) > maxEntities {
		result.Entities = result.Entities[:maxEntities]
	}
	return &result, nil
}

func patternCategorize(content string) *Categorization {
	lower := strings.ToLower(content)

	category := "daily_life"
	for _, cat := range memoryCategoryOrder {
		if matchesAny(lower, memoryCategoryKeywords[cat]) {
			category = cat
			break
		}
	}

	return &Categorization{
		Category: category,
		Entities: extractEntities(content),
	}
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// extractEntities pulls proper nouns and date mentions out of the content.
func extractEntities(content string) []string {
	seen := make(map[string]bool)
	var entities []string

	add := func(entity string) {
		entity = strings.TrimSpace(entity)
		key := strings.ToLower(entity)
		if entity == "" || seen[key] || entityStoplist[key] {
			return
		}
		seen[key] = true
		entities = append(entities, entity)
	}

	for _, m := range properNounRe.FindAllString(content, -1) {
		// Multi-word runs may start with a stoplisted lead like "User
		// Anna"; trim it and keep the remainder.
		words := strings.Fields(m)
		for len(words) > 0 && entityStoplist[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		add(strings.Join(words, " "))
		if len(entities) >= maxEntities {
			return entities
		}
	}
	for _, m := range dateEntityRe.FindAllStringSubmatch(strings.ToLower(content), -1) {
		entity := m[0]
		if m[1] != "" {
			entity = m[1]
		}
		add(entity)
		if len(entities) >= maxEntities {
			break
		}
	}
	return entities
}
