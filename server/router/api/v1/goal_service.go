package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/store"
)

// GoalService manages tracked goals. The chat pipeline creates most goals
// automatically; this surface lets users curate them.
type GoalService struct {
	Store *store.Store
}

type goalPayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	Status        string   `json:"status"`
	Progress      float64  `json:"progress"`
	TargetDateTs  int64    `json:"target_date_ts,omitempty"`
	CompletedTs   int64    `json:"completed_ts,omitempty"`
	MentionCount  int32    `json:"mention_count"`
	Milestones    []string `json:"milestones,omitempty"`
	ProgressNotes []string `json:"progress_notes,omitempty"`
	Motivation    string   `json:"motivation,omitempty"`
	Obstacles     []string `json:"obstacles,omitempty"`
	CreatedTs     int64    `json:"created_ts"`
	UpdatedTs     int64    `json:"updated_ts"`
}

func goalToPayload(g *store.Goal) *goalPayload {
	return &goalPayload{
		ID:            g.ID,
		Title:         g.Title,
		Description:   g.Description,
		Category:      g.Category,
		Status:        string(g.Status),
		Progress:      g.Progress,
		TargetDateTs:  g.TargetDateTs,
		CompletedTs:   g.CompletedTs,
		MentionCount:  g.MentionCount,
		Milestones:    g.Milestones,
		ProgressNotes: g.ProgressNotes,
		Motivation:    g.Motivation,
		Obstacles:     g.Obstacles,
		CreatedTs:     g.CreatedTs,
		UpdatedTs:     g.UpdatedTs,
	}
}

type goalCreateBody struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	Motivation   string  `json:"motivation"`
	TargetDateTs int64   `json:"target_date_ts"`
	Progress     float64 `json:"progress"`
}

func (s *GoalService) Create(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	var body goalCreateBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" {
		return badRequest("title is required")
	}
	if body.Progress < 0 || body.Progress > 100 {
		return badRequest("progress must be between 0 and 100")
	}

	goal, err := s.Store.CreateGoal(c.Request().Context(), &store.Goal{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Title:        body.Title,
		Description:  body.Description,
		Category:     body.Category,
		Motivation:   body.Motivation,
		TargetDateTs: body.TargetDateTs,
		Progress:     body.Progress,
		Status:       store.GoalStatusActive,
	})
	if err != nil {
		return internalError("failed to create goal")
	}
	return c.JSON(http.StatusCreated, goalToPayload(goal))
}

func (s *GoalService) List(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	find := &store.FindGoal{UserID: &user.ID}
	if raw := c.QueryParam("status"); raw != "" {
		status := store.GoalStatus(raw)
		switch status {
		case store.GoalStatusActive, store.GoalStatusCompleted, store.GoalStatusPaused, store.GoalStatusAbandoned:
			find.Status = &status
		default:
			return badRequest("invalid status")
		}
	}
	if limit := queryLimit(c, 100); limit > 0 {
		find.Limit = &limit
	}

	goals, err := s.Store.ListGoals(c.Request().Context(), find)
	if err != nil {
		return internalError("failed to list goals")
	}
	payloads := make([]*goalPayload, 0, len(goals))
	for _, g := range goals {
		payloads = append(payloads, goalToPayload(g))
	}
	return c.JSON(http.StatusOK, payloads)
}

func (s *GoalService) Get(c echo.Context) error {
	goal, err := s.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, goalToPayload(goal))
}

type goalProgressPayload struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Content        string  `json:"content,omitempty"`
	Delta          float64 `json:"delta"`
	Sentiment      string  `json:"sentiment,omitempty"`
	Emotion        string  `json:"emotion,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	CreatedTs      int64   `json:"created_ts"`
}

func (s *GoalService) Progress(c echo.Context) error {
	goal, err := s.owned(c)
	if err != nil {
		return err
	}

	find := &store.FindGoalProgress{GoalID: &goal.ID}
	if limit := queryLimit(c, 100); limit > 0 {
		find.Limit = &limit
	}
	progress, err := s.Store.ListGoalProgress(c.Request().Context(), find)
	if err != nil {
		return internalError("failed to list goal progress")
	}

	payloads := make([]*goalProgressPayload, 0, len(progress))
	for _, p := range progress {
		payloads = append(payloads, &goalProgressPayload{
			ID:             p.ID,
			Type:           string(p.Type),
			Content:        p.Content,
			Delta:          p.Delta,
			Sentiment:      p.Sentiment,
			Emotion:        p.Emotion,
			ConversationID: p.ConversationID,
			CreatedTs:      p.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}

type goalUpdateBody struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Category     *string  `json:"category"`
	Status       *string  `json:"status"`
	Progress     *float64 `json:"progress"`
	TargetDateTs *int64   `json:"target_date_ts"`
	Motivation   *string  `json:"motivation"`
}

func (s *GoalService) Update(c echo.Context) error {
	goal, err := s.owned(c)
	if err != nil {
		return err
	}

	var body goalUpdateBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}

	update := &store.UpdateGoal{
		ID:           goal.ID,
		Title:        body.Title,
		Description:  body.Description,
		Category:     body.Category,
		TargetDateTs: body.TargetDateTs,
		Motivation:   body.Motivation,
	}
	if body.Progress != nil {
		if *body.Progress < 0 || *body.Progress > 100 {
			return badRequest("progress must be between 0 and 100")
		}
		update.Progress = body.Progress
	}
	if body.Status != nil {
		status := store.GoalStatus(*body.Status)
		switch status {
		case store.GoalStatusActive, store.GoalStatusCompleted, store.GoalStatusPaused, store.GoalStatusAbandoned:
			update.Status = &status
		default:
			return badRequest("invalid status")
		}
		if status == store.GoalStatusCompleted && goal.CompletedTs == 0 {
			now := time.Now().Unix()
			update.CompletedTs = &now
		}
	}

	updated, err := s.Store.UpdateGoal(c.Request().Context(), update)
	if err != nil {
		return internalError("failed to update goal")
	}
	return c.JSON(http.StatusOK, goalToPayload(updated))
}

func (s *GoalService) Delete(c echo.Context) error {
	goal, err := s.owned(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteGoal(c.Request().Context(), &store.DeleteGoal{ID: goal.ID}); err != nil {
		return internalError("failed to delete goal")
	}
	return c.NoContent(http.StatusNoContent)
}

type goalAnalytics struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByCategory    map[string]int `json:"by_category"`
	AvgProgress   float64        `json:"avg_progress"`
	CompletedRate float64        `json:"completed_rate"`
}

// Analytics summarizes the user's goals: counts by status and category,
// mean progress over active goals, and completion rate.
func (s *GoalService) Analytics(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}
	goals, err := s.Store.ListGoals(c.Request().Context(), &store.FindGoal{UserID: &user.ID})
	if err != nil {
		return internalError("failed to list goals")
	}

	analytics := &goalAnalytics{
		ByStatus:   make(map[string]int),
		ByCategory: make(map[string]int),
	}
	activeProgress := 0.0
	active := 0
	completed := 0
	for _, g := range goals {
		analytics.Total++
		analytics.ByStatus[string(g.Status)]++
		if g.Category != "" {
			analytics.ByCategory[g.Category]++
		}
		switch g.Status {
		case store.GoalStatusActive:
			activeProgress += g.Progress
			active++
		case store.GoalStatusCompleted:
			completed++
		}
	}
	if active > 0 {
		analytics.AvgProgress = activeProgress / float64(active)
	}
	if analytics.Total > 0 {
		analytics.CompletedRate = float64(completed) / float64(analytics.Total)
	}
	return c.JSON(http.StatusOK, analytics)
}

// owned loads the goal at :id when the caller owns it.
func (s *GoalService) owned(c echo.Context) (*store.Goal, error) {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return nil, err
	}
	goal, err := s.Store.GetGoal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, internalError("failed to load goal")
	}
	if goal == nil || goal.UserID != user.ID {
		return nil, notFound()
	}
	return goal, nil
}
