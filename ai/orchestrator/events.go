package orchestrator

import (
	"context"
	"time"
)

// EventType names one kind of turn event.
type EventType string

const (
	EventThinking        EventType = "thinking"
	EventChunk           EventType = "chunk"
	EventAgeVerification EventType = "age_verification_required"
	EventModelFallback   EventType = "model_fallback"
	EventDone            EventType = "done"
	EventError           EventType = "error"
)

// Event is one item in a turn's stream. The orchestrator produces typed
// events; wire encoders (SSE) live in the server layer.
type Event struct {
	Type           EventType `json:"type"`
	Timestamp      int64     `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// thinking
	Step string         `json:"step,omitempty"`
	Data map[string]any `json:"data,omitempty"`

	// chunk
	Chunk string `json:"chunk,omitempty"`

	// age_verification_required
	Route        string `json:"route,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	APIEndpoint  string `json:"api_endpoint,omitempty"`

	// model_fallback
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// error
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// emitter serializes events onto the turn channel. Once the consumer's
// context is done it swallows everything, so a disconnected client never
// blocks the turn.
type emitter struct {
	ctx            context.Context
	ch             chan<- Event
	conversationID string
	closed         bool
}

func newEmitter(ctx context.Context, ch chan<- Event, conversationID string) *emitter {
	return &emitter{ctx: ctx, ch: ch, conversationID: conversationID}
}

// send delivers one event, reporting false once the consumer is gone.
func (e *emitter) send(ev Event) bool {
	if e.closed {
		return false
	}
	ev.Timestamp = time.Now().Unix()
	ev.ConversationID = e.conversationID
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		e.closed = true
		return false
	}
}

// disconnected reports whether the consumer stopped listening.
func (e *emitter) disconnected() bool {
	if e.closed {
		return true
	}
	select {
	case <-e.ctx.Done():
		e.closed = true
		return true
	default:
		return false
	}
}

func (e *emitter) thinking(step string, data map[string]any) {
	e.send(Event{Type: EventThinking, Step: step, Data: data})
}

func (e *emitter) chunk(text string) bool {
	return e.send(Event{Type: EventChunk, Chunk: text})
}

func (e *emitter) done() {
	e.send(Event{Type: EventDone})
}

func (e *emitter) error(message, detail string) {
	e.send(Event{Type: EventError, Error: message, Detail: detail})
}
