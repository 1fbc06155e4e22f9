package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/core/llm"
)

const (
	titleTimeout   = 15 * time.Second
	titleInputMax  = 500
	titleMaxWords  = 6
	titleMaxRunes  = 60
	summaryTimeout = 20 * time.Second

	// summaryMaxRunes bounds the rolling summary so it cannot crowd out
	// the live window in the prompt.
	summaryMaxRunes = 1200
)

const titlePrompt = `Name this conversation in at most %d words. Plain words only, no quotes, no trailing punctuation.

User: %s
Assistant: %s

Respond with strict JSON only: {"title": "..."}`

const summaryPrompt = `Maintain a running summary of a conversation between a user and their companion.

Current summary (may be empty):
%s

New messages that just left the recent window:
%s

Respond with strict JSON only: {"summary": "..."}. Fold the new messages into the summary, keep it under 150 words, and keep concrete facts (names, dates, decisions, feelings).`

// titleFor asks the small-task model for a short conversation title.
// Returns "" when no service is configured or the call fails; the
// conversation simply keeps its default title.
func titleFor(ctx context.Context, svc llm.Service, userMessage, assistantText string) string {
	if svc == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	response, _, err := svc.ChatJSON(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(titlePrompt,
			titleMaxWords,
			truncateRunes(userMessage, titleInputMax),
			truncateRunes(assistantText, titleInputMax),
		)),
	})
	if err != nil {
		slog.Warn("title generation failed", "error", err)
		return ""
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		slog.Warn("title generation returned bad JSON", "error", err)
		return ""
	}
	return cleanTitle(parsed.Title)
}

// cleanTitle strips quoting and punctuation and enforces the word and
// rune bounds.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".!?,;:")
	if title == "" {
		return ""
	}
	words := strings.Fields(title)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return truncateRunes(strings.Join(words, " "), titleMaxRunes)
}

// summarize folds evicted entries into the rolling summary. With no
// service the fallback appends a truncated transcript, so the summary
// degrades rather than disappears.
func summarize(ctx context.Context, svc llm.Service, existing string, evicted []buffer.Entry) string {
	if len(evicted) == 0 {
		return existing
	}
	transcript := transcriptOf(evicted)

	if svc != nil {
		ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()

		current := existing
		if current == "" {
			current = "(none)"
		}
		response, _, err := svc.ChatJSON(ctx, []llm.Message{
			llm.UserMessage(fmt.Sprintf(summaryPrompt, current, transcript)),
		})
		if err != nil {
			slog.Warn("summarization failed, using transcript fallback", "error", err)
		} else {
			var parsed struct {
				Summary string `json:"summary"`
			}
			if jerr := json.Unmarshal([]byte(response), &parsed); jerr == nil && strings.TrimSpace(parsed.Summary) != "" {
				return truncateRunes(strings.TrimSpace(parsed.Summary), summaryMaxRunes)
			}
			slog.Warn("summarization returned bad JSON, using transcript fallback")
		}
	}

	// The tail wins on overflow: the newest context is the part worth
	// keeping.
	combined := transcript
	if existing != "" {
		combined = existing + "\n" + transcript
	}
	return tailRunes(combined, summaryMaxRunes)
}

func tailRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[len(runes)-max:])
}

func transcriptOf(entries []buffer.Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Role)
		sb.WriteString(": ")
		sb.WriteString(truncateRunes(e.Content, 200))
	}
	return sb.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
