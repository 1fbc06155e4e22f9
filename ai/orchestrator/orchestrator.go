// Package orchestrator drives one chat turn end to end: short-term
// buffering, the analyzer fan-out, classification and routing, memory
// retrieval, prompt assembly, streaming generation, and the detached
// post-turn work. It produces a channel of typed events; transport
// encoders live in the server layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/memory"
	"github.com/reveriehq/reverie/ai/metrics"
	"github.com/reveriehq/reverie/ai/moderation"
	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/audit"
	"github.com/reveriehq/reverie/store"
)

const (
	maxMessageRunes = 4000

	defaultAgeVerifyEndpoint = "/api/v1/verify-age"
	defaultWorkers           = 3
	defaultQueueSize         = 100
	defaultJobTimeout        = 60 * time.Second

	// moodTrendLimit is how many recent emotion entries feed the prompt's
	// mood-trend check.
	moodTrendLimit = 5

	// activeGoalLimit bounds the goals loaded per turn.
	activeGoalLimit = 20

	// cannedChunkWords is the word-group size used when streaming a
	// refusal message as chunks.
	cannedChunkWords = 6

	ageVerifyInstructions = "This conversation is heading into adult content, which needs a one-time " +
		"age verification. Confirm your date of birth through the verification endpoint, " +
		"then send your message again."
)

// errDisconnected marks a turn abandoned because the client went away.
// No further events are emitted; queued background work still runs.
var errDisconnected = errors.New("client disconnected")

// Store is the slice of the data layer a turn touches.
type Store interface {
	EnsureUser(ctx context.Context, externalID string) (*store.User, error)
	EnsureConversation(ctx context.Context, ensure *store.Conversation) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	UpsertUserPreferences(ctx context.Context, upsert *store.UpsertUserPreferences) (*store.UserPreferences, error)
	GetUserPreferences(ctx context.Context, find *store.FindUserPreferences) (*store.UserPreferences, error)
	CreateEmotion(ctx context.Context, create *store.EmotionEntry) (*store.EmotionEntry, error)
	ListEmotions(ctx context.Context, find *store.FindEmotion) ([]*store.EmotionEntry, error)
	UpsertRelationship(ctx context.Context, upsert *store.UpsertRelationship) (*store.Relationship, error)
	ListGoals(ctx context.Context, find *store.FindGoal) ([]*store.Goal, error)
	GetGoal(ctx context.Context, id string) (*store.Goal, error)
	CreateGoal(ctx context.Context, create *store.Goal) (*store.Goal, error)
	CreateGoalProgress(ctx context.Context, create *store.GoalProgress) (*store.GoalProgress, error)
	UpdateGoal(ctx context.Context, update *store.UpdateGoal) (*store.Goal, error)
}

// Config wires an Orchestrator. Store through Models are required; the
// analyzers, retriever, and extractor are optional and skipped when nil.
type Config struct {
	Store      Store
	Buffer     buffer.Buffer
	Classifier *moderation.Classifier
	Router     *routing.Router
	Sessions   *routing.SessionManager
	Personas   *persona.Manager
	Models     ModelSet

	Retriever *memory.Retriever
	Extractor *memory.Extractor

	Preferences *analyzers.PreferenceAnalyzer
	Personality *analyzers.PersonalityDetector
	Emotions    *analyzers.EmotionDetector
	Goals       *analyzers.GoalDetector

	Metrics *metrics.Exporter
	Audit   *audit.Logger

	// AgeVerifyEndpoint is advertised in age_verification_required events.
	AgeVerifyEndpoint string

	// Workers and QueueSize bound the background pool. JobTimeout caps one
	// background job.
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Orchestrator runs chat turns. Safe for concurrent use; turns within one
// conversation are serialized, conversations are independent.
type Orchestrator struct {
	store      Store
	buffer     buffer.Buffer
	classifier *moderation.Classifier
	router     *routing.Router
	sessions   *routing.SessionManager
	personas   *persona.Manager
	models     ModelSet

	retriever *memory.Retriever
	extractor *memory.Extractor

	prefAnalyzer        *analyzers.PreferenceAnalyzer
	personalityDetector *analyzers.PersonalityDetector
	emotionDetector     *analyzers.EmotionDetector
	goalDetector        *analyzers.GoalDetector

	metrics *metrics.Exporter
	audit   *audit.Logger

	ageVerifyEndpoint string
	turns             *lockTable
	background        *pool
}

func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("orchestrator: store is required")
	case cfg.Buffer == nil:
		return nil, fmt.Errorf("orchestrator: buffer is required")
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("orchestrator: classifier is required")
	case cfg.Router == nil:
		return nil, fmt.Errorf("orchestrator: router is required")
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("orchestrator: session manager is required")
	case cfg.Personas == nil:
		return nil, fmt.Errorf("orchestrator: persona manager is required")
	case cfg.Models == nil:
		return nil, fmt.Errorf("orchestrator: model set is required")
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewExporter(metrics.DefaultConfig())
	}
	if cfg.AgeVerifyEndpoint == "" {
		cfg.AgeVerifyEndpoint = defaultAgeVerifyEndpoint
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	o := &Orchestrator{
		store:               cfg.Store,
		buffer:              cfg.Buffer,
		classifier:          cfg.Classifier,
		router:              cfg.Router,
		sessions:            cfg.Sessions,
		personas:            cfg.Personas,
		models:              cfg.Models,
		retriever:           cfg.Retriever,
		extractor:           cfg.Extractor,
		prefAnalyzer:        cfg.Preferences,
		personalityDetector: cfg.Personality,
		emotionDetector:     cfg.Emotions,
		goalDetector:        cfg.Goals,
		metrics:             cfg.Metrics,
		audit:               cfg.Audit,
		ageVerifyEndpoint:   cfg.AgeVerifyEndpoint,
		turns:               newLockTable(),
	}
	o.background = newPool(o, cfg.Workers, cfg.QueueSize, cfg.JobTimeout)
	o.background.start()
	return o, nil
}

// Close stops the background pool after draining queued jobs. In-flight
// turns are unaffected; callers should stop accepting requests first.
func (o *Orchestrator) Close() {
	o.background.stop()
}

// ChatRequest is one user turn.
type ChatRequest struct {
	// UserID is the caller's external identity from auth.
	UserID string

	// ConversationID continues an existing conversation; empty starts a
	// new one.
	ConversationID string

	Message string

	// PersonalityName picks the persona for a new conversation. Existing
	// conversations keep the personality they started with.
	PersonalityName string

	// SystemPrompt overrides the built prompt. Ignored on age-restricted
	// routes, which always use their own prompt.
	SystemPrompt string
}

// StreamChat runs one turn and returns its event stream. The channel is
// closed after the final event. Cancelling ctx stops streaming; queued
// background work still completes.
func (o *Orchestrator) StreamChat(ctx context.Context, req ChatRequest) (<-chan Event, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		return nil, fmt.Errorf("message exceeds %d characters", maxMessageRunes)
	}

	events := make(chan Event, 16)
	go o.runTurn(ctx, req, events)
	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req ChatRequest, events chan<- Event) {
	defer close(events)

	conversationID := req.ConversationID
	if conversationID == "" {
		// Conversation ids appear in URLs, so keep them short.
		conversationID = shortuuid.New()
	}

	// Turns within a conversation run strictly one after another; the next
	// turn cannot start until this one has emitted its final event.
	l := o.turns.acquire(conversationID)
	defer o.turns.release(conversationID, l)

	t := &turn{
		o:              o,
		req:            req,
		em:             newEmitter(ctx, events, conversationID),
		conversationID: conversationID,
	}

	start := time.Now()
	err := t.run(ctx)

	routeLabel := "none"
	if t.routeCfg.Route != "" {
		routeLabel = string(t.routeCfg.Route)
	}
	o.metrics.RecordTurn(routeLabel, time.Since(start), err)

	if err == nil || errors.Is(err, errDisconnected) {
		return
	}
	slog.Error("chat turn failed",
		"conversation", conversationID,
		"user", req.UserID,
		"error", err,
	)
	var tf *turnFailure
	if errors.As(err, &tf) {
		t.em.error(tf.public, tf.err.Error())
	} else {
		t.em.error("internal error", err.Error())
	}
	t.em.done()
}

// turnFailure pairs a client-safe error summary with the underlying cause.
type turnFailure struct {
	public string
	err    error
}

func (f *turnFailure) Error() string { return f.public + ": " + f.err.Error() }

func (f *turnFailure) Unwrap() error { return f.err }

func fail(public string, err error) error {
	return &turnFailure{public: public, err: err}
}

// classificationSource names the layer that decided a classification.
func classificationSource(result *moderation.Result) string {
	if result == nil || len(result.Layers) == 0 {
		return "none"
	}
	return result.Layers[len(result.Layers)-1].Layer
}
