package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/store"
)

// ConversationService lists and manages conversations. Deleting one also
// drops its volatile session state and short-term buffer.
type ConversationService struct {
	Store    *store.Store
	Sessions *routing.SessionManager
	Buffer   buffer.Buffer
}

type conversationPayload struct {
	ID            string `json:"id"`
	PersonalityID string `json:"personality_id"`
	Title         string `json:"title"`
	TitleSource   string `json:"title_source"`
	CreatedTs     int64  `json:"created_ts"`
	UpdatedTs     int64  `json:"updated_ts"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"created_ts"`
}

func (s *ConversationService) List(c echo.Context) error {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return err
	}

	find := &store.FindConversation{UserID: &user.ID}
	if limit := queryLimit(c, 50); limit > 0 {
		find.Limit = &limit
	}
	conversations, err := s.Store.ListConversations(c.Request().Context(), find)
	if err != nil {
		return internalError("failed to list conversations")
	}

	payloads := make([]*conversationPayload, 0, len(conversations))
	for _, conv := range conversations {
		payloads = append(payloads, &conversationPayload{
			ID:            conv.ID,
			PersonalityID: conv.PersonalityID,
			Title:         conv.Title,
			TitleSource:   string(conv.TitleSource),
			CreatedTs:     conv.CreatedTs,
			UpdatedTs:     conv.UpdatedTs,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}

func (s *ConversationService) Messages(c echo.Context) error {
	conversation, err := s.owned(c)
	if err != nil {
		return err
	}

	find := &store.FindMessage{ConversationID: &conversation.ID}
	if limit := queryLimit(c, 200); limit > 0 {
		find.Limit = &limit
	}
	messages, err := s.Store.ListMessages(c.Request().Context(), find)
	if err != nil {
		return internalError("failed to list messages")
	}

	payloads := make([]*messagePayload, 0, len(messages))
	for _, msg := range messages {
		payloads = append(payloads, &messagePayload{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedTs: msg.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}

type conversationUpdateBody struct {
	Title string `json:"title"`
}

// Update renames a conversation. A user-set title is never overwritten by
// the automatic title generator afterwards.
func (s *ConversationService) Update(c echo.Context) error {
	conversation, err := s.owned(c)
	if err != nil {
		return err
	}

	var body conversationUpdateBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}
	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" {
		return badRequest("title is required")
	}

	source := store.TitleSourceUser
	updated, err := s.Store.UpdateConversation(c.Request().Context(), &store.UpdateConversation{
		ID:          conversation.ID,
		Title:       &body.Title,
		TitleSource: &source,
	})
	if err != nil {
		return internalError("failed to update conversation")
	}
	return c.JSON(http.StatusOK, &conversationPayload{
		ID:            updated.ID,
		PersonalityID: updated.PersonalityID,
		Title:         updated.Title,
		TitleSource:   string(updated.TitleSource),
		CreatedTs:     updated.CreatedTs,
		UpdatedTs:     updated.UpdatedTs,
	})
}

func (s *ConversationService) Delete(c echo.Context) error {
	conversation, err := s.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if err := s.Store.DeleteConversation(ctx, &store.DeleteConversation{ID: conversation.ID}); err != nil {
		return internalError("failed to delete conversation")
	}
	// Memories extracted from this conversation go with it.
	if _, err := s.Store.DeleteMemories(ctx, &store.DeleteMemory{ConversationID: &conversation.ID}); err != nil {
		return internalError("failed to delete conversation memories")
	}
	if s.Sessions != nil {
		s.Sessions.Drop(conversation.ID)
	}
	if s.Buffer != nil {
		s.Buffer.Clear(ctx, conversation.ID)
	}
	return c.NoContent(http.StatusNoContent)
}

// owned loads the conversation at :id when the caller owns it. Anyone
// else's conversation reads as missing.
func (s *ConversationService) owned(c echo.Context) (*store.Conversation, error) {
	user, err := requireUser(c, s.Store)
	if err != nil {
		return nil, err
	}
	conversation, err := s.Store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, internalError("failed to load conversation")
	}
	if conversation == nil || conversation.UserID != user.ID {
		return nil, notFound()
	}
	return conversation, nil
}

func queryLimit(c echo.Context, fallback int) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}
