package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/metrics"
	"github.com/reveriehq/reverie/ai/orchestrator"
)

// Streamer runs one chat turn and yields its event stream.
// *orchestrator.Orchestrator satisfies it.
type Streamer interface {
	StreamChat(ctx context.Context, req orchestrator.ChatRequest) (<-chan orchestrator.Event, error)
}

// ChatService encodes turn events as server-sent events.
type ChatService struct {
	Streamer Streamer
	Metrics  *metrics.Exporter
}

type chatRequestBody struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Personality    string `json:"personality"`
	SystemPrompt   string `json:"system_prompt"`
}

// Stream handles POST /api/v1/chat. Events go out as one `data:` line per
// event; the stream ends when the turn emits its final event or the client
// disconnects.
func (s *ChatService) Stream(c echo.Context) error {
	var body chatRequestBody
	if err := c.Bind(&body); err != nil {
		return badRequest("invalid request body")
	}

	ctx := c.Request().Context()
	events, err := s.Streamer.StreamChat(ctx, orchestrator.ChatRequest{
		UserID:          currentUserID(c),
		ConversationID:  body.ConversationID,
		Message:         body.Message,
		PersonalityName: body.Personality,
		SystemPrompt:    body.SystemPrompt,
	})
	if err != nil {
		return badRequest(err.Error())
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the stream.
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	if s.Metrics != nil {
		s.Metrics.StreamOpened()
		defer s.Metrics.StreamClosed()
	}

	chunks := 0
	for event := range events {
		if event.Type == orchestrator.EventChunk {
			chunks++
		}
		if err := writeSSE(resp, event); err != nil {
			// The client went away; the orchestrator notices through ctx
			// and stops emitting.
			break
		}
	}
	if s.Metrics != nil {
		s.Metrics.RecordChunks(chunks)
	}
	return nil
}

func writeSSE(resp *echo.Response, event orchestrator.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
