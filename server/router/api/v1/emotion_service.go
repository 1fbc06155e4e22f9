package v1

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/store"
)

// EmotionService reads the detected-emotion history and derives simple
// aggregate views from it.
type EmotionService struct {
	Store *store.Store
}

type emotionPayload struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Emotion        string   `json:"emotion"`
	Confidence     float64  `json:"confidence"`
	Intensity      string   `json:"intensity"`
	Indicators     []string `json:"indicators,omitempty"`
	MessageSnippet string   `json:"message_snippet,omitempty"`
	CreatedTs      int64    `json:"created_ts"`
}

func (s *EmotionService) History(c echo.Context) error {
	entries, err := s.listForUser(c)
	if err != nil {
		return err
	}
	payloads := make([]*emotionPayload, 0, len(entries))
	for _, e := range entries {
		payloads = append(payloads, &emotionPayload{
			ID:             e.ID,
			ConversationID: e.ConversationID,
			Emotion:        e.Emotion,
			Confidence:     e.Confidence,
			Intensity:      string(e.Intensity),
			Indicators:     e.Indicators,
			MessageSnippet: e.MessageSnippet,
			CreatedTs:      e.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}

type emotionStats struct {
	Total         int                `json:"total"`
	Counts        map[string]int     `json:"counts"`
	AvgConfidence map[string]float64 `json:"avg_confidence"`
	Dominant      string             `json:"dominant,omitempty"`
}

func (s *EmotionService) Statistics(c echo.Context) error {
	entries, err := s.listForUser(c)
	if err != nil {
		return err
	}

	stats := &emotionStats{
		Counts:        make(map[string]int),
		AvgConfidence: make(map[string]float64),
	}
	confidenceSums := make(map[string]float64)
	for _, e := range entries {
		stats.Total++
		stats.Counts[e.Emotion]++
		confidenceSums[e.Emotion] += e.Confidence
	}
	best := 0
	for emotion, count := range stats.Counts {
		stats.AvgConfidence[emotion] = confidenceSums[emotion] / float64(count)
		if count > best {
			best = count
			stats.Dominant = emotion
		}
	}
	return c.JSON(http.StatusOK, stats)
}

type emotionTrendDay struct {
	Day      string         `json:"day"` // YYYY-MM-DD, UTC
	Counts   map[string]int `json:"counts"`
	Dominant string         `json:"dominant,omitempty"`
}

// Trends groups the recent history into per-day emotion counts, oldest
// day first.
func (s *EmotionService) Trends(c echo.Context) error {
	entries, err := s.listForUser(c)
	if err != nil {
		return err
	}

	byDay := make(map[string]*emotionTrendDay)
	for _, e := range entries {
		day := time.Unix(e.CreatedTs, 0).UTC().Format("2006-01-02")
		trend, ok := byDay[day]
		if !ok {
			trend = &emotionTrendDay{Day: day, Counts: make(map[string]int)}
			byDay[day] = trend
		}
		trend.Counts[e.Emotion]++
	}

	days := make([]*emotionTrendDay, 0, len(byDay))
	for _, trend := range byDay {
		best := 0
		for emotion, count := range trend.Counts {
			if count > best {
				best = count
				trend.Dominant = emotion
			}
		}
		days = append(days, trend)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })
	return c.JSON(http.StatusOK, days)
}

func (s *EmotionService) Clear(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	deleted, err := s.Store.DeleteEmotions(c.Request().Context(), &store.DeleteEmotion{UserID: &user.ID})
	if err != nil {
		return internalError("failed to clear emotions")
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *EmotionService) listForUser(c echo.Context) ([]*store.EmotionEntry, error) {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return nil, err
	}

	find := &store.FindEmotion{UserID: &user.ID}
	if limit := queryLimit(c, 100); limit > 0 {
		find.Limit = &limit
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, badRequest("invalid since timestamp")
		}
		find.Since = &since
	}
	if emotion := c.QueryParam("emotion"); emotion != "" {
		find.Emotion = &emotion
	}

	entries, err := s.Store.ListEmotions(c.Request().Context(), find)
	if err != nil {
		return nil, internalError("failed to list emotions")
	}
	return entries, nil
}
