package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/ai/memory"
	"github.com/reveriehq/reverie/ai/moderation"
	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/ai/prompt"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/audit"
	"github.com/reveriehq/reverie/store"
)

// turn carries the state of one chat turn through the pipeline.
type turn struct {
	o              *Orchestrator
	req            ChatRequest
	em             *emitter
	conversationID string

	user         *store.User
	personality  *store.Personality
	conversation *store.Conversation

	// Fan-out results. Each field is written by exactly one task and read
	// only after the join.
	prefs              *store.UserPreferences
	emotion            *analyzers.EmotionResult
	recentEmotions     []*store.EmotionEntry
	relationship       *store.Relationship
	activeGoals        []*store.Goal
	goalSignals        []analyzers.GoalSignal
	updatedPersonality *store.Personality

	classification *moderation.Result
	decision       routing.Decision
	session        routing.SessionState
	routeCfg       routing.Config

	evicted       []buffer.Entry
	assistantText string
	chunksSent    int
}

func (t *turn) run(ctx context.Context) error {
	o := t.o

	user, err := o.store.EnsureUser(ctx, t.req.UserID)
	if err != nil {
		return fail("user lookup failed", err)
	}
	t.user = user

	personality, err := o.personas.Resolve(ctx, user.ID, t.req.PersonalityName)
	if err != nil {
		return fail("personality lookup failed", err)
	}
	if personality == nil {
		return fail("personality not found", fmt.Errorf("no personality named %q", t.req.PersonalityName))
	}

	conversation, err := o.store.EnsureConversation(ctx, &store.Conversation{
		ID:            t.conversationID,
		UserID:        user.ID,
		PersonalityID: personality.ID,
	})
	if err != nil {
		return fail("conversation lookup failed", err)
	}
	if conversation.UserID != user.ID {
		return fail("conversation not found",
			fmt.Errorf("conversation %s belongs to another user", t.conversationID))
	}
	if conversation.PersonalityID != personality.ID {
		// An existing conversation keeps the personality it started with.
		if p, perr := o.personas.Get(ctx, conversation.PersonalityID); perr == nil && p != nil {
			personality = p
		}
	}
	t.personality = personality
	t.conversation = conversation

	// The user turn enters the short-term window and the durable
	// transcript before any analysis.
	t.evicted = append(t.evicted, o.buffer.Append(ctx, t.conversationID, "user", t.req.Message)...)
	if _, err := o.store.CreateMessage(ctx, &store.Message{
		ConversationID: t.conversationID,
		Role:           store.MessageRoleUser,
		Content:        t.req.Message,
	}); err != nil {
		slog.Error("persist user message", "conversation", t.conversationID, "error", err)
	}

	t.em.thinking("analyzing", nil)
	t.fanOut(ctx)
	if t.updatedPersonality != nil {
		// A directive just changed the persona; the reply must already
		// reflect it rather than the copy loaded above.
		t.personality = t.updatedPersonality
	}

	result := o.classifier.Classify(ctx, t.req.Message)
	t.classification = result
	o.metrics.RecordClassification(string(result.Label), classificationSource(result))

	t.decision, t.session = o.sessions.Advance(t.conversationID, user.ID, result.Label, user.AgeVerified())
	t.routeCfg = o.router.ConfigFor(t.decision.Route)
	o.metrics.RecordRoute(string(t.decision.Route), t.decision.LockHeld)
	t.em.thinking("routing", map[string]any{
		"route":          string(t.decision.Route),
		"lock_remaining": t.decision.LockRemaining,
	})

	if t.routeCfg.AgeRestricted && !t.session.AgeVerified {
		return t.ageGate()
	}
	if t.routeCfg.IsRefusal() {
		return t.refuse(ctx)
	}
	return t.respond(ctx)
}

// fanOut runs the five per-turn analysis tasks concurrently. Every task is
// advisory: it logs and zeroes its own result on failure, so the join never
// cancels siblings and never fails the turn.
func (t *turn) fanOut(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		t.prefs = t.analyzePreferences(ctx)
		return nil
	})
	g.Go(func() error {
		t.updatedPersonality = t.applyPersonalityDirective(ctx)
		return nil
	})
	g.Go(func() error {
		t.emotion, t.recentEmotions = t.analyzeEmotion(ctx)
		return nil
	})
	g.Go(func() error {
		t.relationship = t.touchRelationship(ctx)
		return nil
	})
	g.Go(func() error {
		t.activeGoals, t.goalSignals = t.analyzeGoals(ctx)
		return nil
	})
	_ = g.Wait()
}

// analyzePreferences applies any preference changes in the message, then
// returns the stored preferences for the prompt.
func (t *turn) analyzePreferences(ctx context.Context) *store.UserPreferences {
	o := t.o
	if o.prefAnalyzer != nil {
		update, err := o.prefAnalyzer.Analyze(ctx, t.req.Message)
		switch {
		case err != nil:
			slog.Warn("preference analysis failed", "conversation", t.conversationID, "error", err)
		case update.Empty():
			// Nothing changed; skip the write.
		default:
			if _, err := o.store.UpsertUserPreferences(ctx, &store.UpsertUserPreferences{
				UserID:           t.user.ID,
				Language:         update.Language,
				Formality:        update.Formality,
				Tone:             update.Tone,
				EmojiUsage:       update.EmojiUsage,
				ResponseLength:   update.ResponseLength,
				ExplanationStyle: update.ExplanationStyle,
			}); err != nil {
				slog.Warn("preference update failed", "user", t.user.ID, "error", err)
			}
		}
	}

	prefs, err := o.store.GetUserPreferences(ctx, &store.FindUserPreferences{UserID: t.user.ID})
	if err != nil {
		slog.Warn("load preferences failed", "user", t.user.ID, "error", err)
		return nil
	}
	return prefs
}

// applyPersonalityDirective detects "be more X" style requests and persists
// the adjusted persona, returning it for immediate use.
func (t *turn) applyPersonalityDirective(ctx context.Context) *store.Personality {
	o := t.o
	if o.personalityDetector == nil {
		return nil
	}
	directive, err := o.personalityDetector.Detect(ctx, t.req.Message)
	if err != nil {
		slog.Warn("personality directive detection failed", "conversation", t.conversationID, "error", err)
		return nil
	}
	if directive.Empty() {
		return nil
	}

	updated, err := o.personas.Update(ctx, directiveUpdate(t.personality, directive))
	if err != nil {
		slog.Warn("personality update failed", "personality", t.personality.ID, "error", err)
		return nil
	}
	slog.Info("personality adjusted by directive",
		"personality", updated.ID,
		"archetype", directive.Archetype,
		"deltas", len(directive.TraitDeltas),
	)
	return updated
}

// analyzeEmotion persists the detected emotion and loads the recent
// history for the prompt's mood trend.
func (t *turn) analyzeEmotion(ctx context.Context) (*analyzers.EmotionResult, []*store.EmotionEntry) {
	o := t.o
	var result *analyzers.EmotionResult
	if o.emotionDetector != nil {
		r, err := o.emotionDetector.Detect(ctx, t.req.Message)
		if err != nil {
			slog.Warn("emotion detection failed", "conversation", t.conversationID, "error", err)
		} else if r != nil {
			result = r
			if _, err := o.store.CreateEmotion(ctx, &store.EmotionEntry{
				UserID:         t.user.ID,
				ConversationID: t.conversationID,
				Emotion:        r.Emotion,
				Confidence:     r.Confidence,
				Intensity:      r.Intensity,
				Indicators:     r.Indicators,
				MessageSnippet: t.req.Message,
			}); err != nil {
				slog.Warn("persist emotion failed", "user", t.user.ID, "error", err)
			}
		}
	}

	limit := moodTrendLimit
	recent, err := o.store.ListEmotions(ctx, &store.FindEmotion{UserID: &t.user.ID, Limit: &limit})
	if err != nil {
		slog.Warn("load emotion history failed", "user", t.user.ID, "error", err)
		return result, nil
	}
	return result, recent
}

// touchRelationship counts this message and recomputes depth, trust, and
// milestones from the updated totals.
func (t *turn) touchRelationship(ctx context.Context) *store.Relationship {
	o := t.o
	now := time.Now().Unix()
	rel, err := o.store.UpsertRelationship(ctx, &store.UpsertRelationship{
		UserID:             t.user.ID,
		PersonalityID:      t.personality.ID,
		TotalMessagesDelta: 1,
		InteractionTs:      now,
	})
	if err != nil {
		slog.Warn("relationship update failed", "user", t.user.ID, "error", err)
		return nil
	}

	depth, trust := relationshipScores(rel.TotalMessages, rel.DaysKnown())
	milestones := newMilestones(rel.TotalMessages, rel.DaysKnown(), rel.Milestones)
	if depth == rel.DepthScore && trust == rel.TrustLevel && milestones == nil {
		return rel
	}

	up := &store.UpsertRelationship{
		UserID:        t.user.ID,
		PersonalityID: t.personality.ID,
		DepthScore:    &depth,
		TrustLevel:    &trust,
		InteractionTs: now,
	}
	if milestones != nil {
		up.Milestones = &milestones
	}
	updated, err := o.store.UpsertRelationship(ctx, up)
	if err != nil {
		slog.Warn("relationship score update failed", "user", t.user.ID, "error", err)
		return rel
	}
	return updated
}

// analyzeGoals loads the user's active goals and detects goal talk in the
// message. Signals feed the prompt now and are persisted in background.
func (t *turn) analyzeGoals(ctx context.Context) ([]*store.Goal, []analyzers.GoalSignal) {
	o := t.o
	status := store.GoalStatusActive
	limit := activeGoalLimit
	goals, err := o.store.ListGoals(ctx, &store.FindGoal{
		UserID: &t.user.ID,
		Status: &status,
		Limit:  &limit,
	})
	if err != nil {
		slog.Warn("load goals failed", "user", t.user.ID, "error", err)
		goals = nil
	}

	var signals []analyzers.GoalSignal
	if o.goalDetector != nil {
		signals, err = o.goalDetector.Detect(ctx, t.req.Message, goals)
		if err != nil {
			slog.Warn("goal detection failed", "conversation", t.conversationID, "error", err)
			signals = nil
		}
	}
	return goals, signals
}

// ageGate blocks an age-restricted route for an unverified user.
func (t *turn) ageGate() error {
	o := t.o
	attempts := o.sessions.RecordExplicitAttempt(t.conversationID)
	t.writeAudit(audit.ActionAgeVerify, fmt.Sprintf("attempt %d without verification", attempts))
	t.em.send(Event{
		Type:         EventAgeVerification,
		Route:        string(t.decision.Route),
		Instructions: ageVerifyInstructions,
		APIEndpoint:  o.ageVerifyEndpoint,
	})
	t.em.done()
	return nil
}

// refuse streams the route's canned message instead of calling a model.
// The refusal joins the window and transcript like any assistant turn, but
// nothing from this turn reaches long-term memory.
func (t *turn) refuse(ctx context.Context) error {
	o := t.o
	t.writeAudit(audit.ActionRefuse, string(t.classification.Label))
	t.streamCanned(t.routeCfg.RefusalMessage)

	t.evicted = append(t.evicted, o.buffer.Append(ctx, t.conversationID, "assistant", t.routeCfg.RefusalMessage)...)
	if _, err := o.store.CreateMessage(ctx, &store.Message{
		ConversationID: t.conversationID,
		Role:           store.MessageRoleAssistant,
		Content:        t.routeCfg.RefusalMessage,
	}); err != nil {
		slog.Error("persist refusal message", "conversation", t.conversationID, "error", err)
	}

	o.metrics.RecordChunks(t.chunksSent)
	t.em.done()
	t.queueFollowUp(false)
	return nil
}

func (t *turn) streamCanned(text string) {
	words := strings.Fields(text)
	for i := 0; i < len(words); i += cannedChunkWords {
		end := i + cannedChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		if !t.em.chunk(chunk) {
			return
		}
		t.chunksSent++
	}
}

// respond retrieves memories, builds the prompt, and streams the reply.
func (t *turn) respond(ctx context.Context) error {
	o := t.o

	scope := memory.Scope{
		UserID:         t.user.ID,
		PersonalityID:  t.personality.ID,
		ConversationID: t.conversationID,
	}
	var memories []memory.Retrieved
	if o.retriever != nil {
		var err error
		memories, err = o.retriever.Retrieve(ctx, scope, t.req.Message)
		if err != nil {
			slog.Warn("memory retrieval failed", "conversation", t.conversationID, "error", err)
			memories = nil
		}
		o.metrics.RecordRetrieval(len(memories))
	}
	t.em.thinking("remembering", map[string]any{"memories": len(memories)})

	in := prompt.Input{
		Personality:    t.personality,
		Relationship:   t.relationship,
		Memories:       memories,
		Summary:        o.buffer.Summary(ctx, t.conversationID),
		Emotion:        t.emotion,
		RecentEmotions: t.recentEmotions,
		Goals:          t.activeGoals,
		GoalSignals:    t.goalSignals,
		Preferences:    t.prefs,
		Route:          t.routeCfg,
	}
	history := o.buffer.Recent(ctx, t.conversationID, 0)
	messages := prompt.Messages(in, history, t.req.Message)
	if t.req.SystemPrompt != "" && !t.routeCfg.AgeRestricted {
		messages[0] = llm.SystemPrompt(t.req.SystemPrompt)
	}

	backend := t.routeCfg.Backend
	action := audit.ActionGenerate
	svc := o.models.Chat(backend, t.routeCfg.Route)
	if svc == nil && backend == routing.BackendLocal {
		// No local client configured; this route starts on the hosted
		// fallback outright.
		t.em.send(Event{
			Type: EventModelFallback,
			From: string(routing.BackendLocal),
			To:   string(routing.BackendHosted),
		})
		o.metrics.RecordModelFallback()
		svc, messages = t.hostedFallback(messages)
		backend = routing.BackendHosted
		action = audit.ActionGenerateFallback
	}
	if svc == nil {
		return fail("no model available", fmt.Errorf("no chat service for route %s", t.routeCfg.Route))
	}

	t.em.thinking("responding", map[string]any{"model": svc.Model()})
	text, err := t.stream(ctx, svc, backend, messages)

	if err != nil && !errors.Is(err, errDisconnected) &&
		t.chunksSent == 0 && backend == routing.BackendLocal {
		// The local model never produced output; retry once on the hosted
		// client with the route's safer prompt.
		slog.Warn("local model unavailable, falling back to hosted",
			"conversation", t.conversationID,
			"route", t.routeCfg.Route,
			"error", err,
		)
		t.em.send(Event{
			Type: EventModelFallback,
			From: string(routing.BackendLocal),
			To:   string(routing.BackendHosted),
		})
		o.metrics.RecordModelFallback()
		svc, messages = t.hostedFallback(messages)
		backend = routing.BackendHosted
		action = audit.ActionGenerateFallback
		if svc == nil {
			return fail("no model available", fmt.Errorf("no hosted fallback for route %s", t.routeCfg.Route))
		}
		text, err = t.stream(ctx, svc, backend, messages)
	}

	if errors.Is(err, errDisconnected) {
		t.queueFollowUp(true)
		return err
	}
	if err != nil {
		t.writeAudit(action, "generation failed")
		return fail("generation failed", err)
	}

	t.assistantText = text
	t.evicted = append(t.evicted, o.buffer.Append(ctx, t.conversationID, "assistant", text)...)
	if _, err := o.store.CreateMessage(ctx, &store.Message{
		ConversationID: t.conversationID,
		Role:           store.MessageRoleAssistant,
		Content:        text,
	}); err != nil {
		slog.Error("persist assistant message", "conversation", t.conversationID, "error", err)
	}

	o.metrics.RecordChunks(t.chunksSent)
	t.writeAudit(action, "")
	t.em.done()
	t.queueFollowUp(true)
	return nil
}

// hostedFallback swaps in the hosted client and the route's safer prompt.
func (t *turn) hostedFallback(messages []llm.Message) (llm.Service, []llm.Message) {
	svc := t.o.models.Chat(routing.BackendHosted, t.routeCfg.Route)
	if t.routeCfg.FallbackSystemPrompt != "" && len(messages) > 0 {
		messages[0] = llm.SystemPrompt(t.routeCfg.FallbackSystemPrompt)
	}
	return svc, messages
}

// stream forwards model output as chunk events and returns the full text.
func (t *turn) stream(ctx context.Context, svc llm.Service, backend routing.Backend, messages []llm.Message) (string, error) {
	o := t.o
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.metrics.StreamOpened()
	defer o.metrics.StreamClosed()

	start := time.Now()
	contentCh, statsCh, errCh := svc.ChatStream(ctx, messages)

	var sb strings.Builder
	var stats *llm.CallStats
	var streamErr error
	for contentCh != nil || statsCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return sb.String(), errDisconnected
		case chunk, ok := <-contentCh:
			if !ok {
				contentCh = nil
				continue
			}
			if chunk == "" {
				continue
			}
			sb.WriteString(chunk)
			if !t.em.chunk(chunk) {
				return sb.String(), errDisconnected
			}
			t.chunksSent++
		case s, ok := <-statsCh:
			if !ok {
				statsCh = nil
				continue
			}
			stats = s
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			streamErr = err
		}
	}

	if stats != nil {
		o.metrics.RecordLLMCall(svc.Model(), string(backend), time.Duration(stats.TotalDurationMs)*time.Millisecond)
		o.metrics.RecordLLMTokens(svc.Model(), "prompt", stats.PromptTokens)
		o.metrics.RecordLLMTokens(svc.Model(), "completion", stats.CompletionTokens)
	} else {
		o.metrics.RecordLLMCall(svc.Model(), string(backend), time.Since(start))
	}

	if streamErr != nil {
		return sb.String(), streamErr
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model returned no content")
	}
	return sb.String(), nil
}

// writeAudit records this turn's routing outcome. Exactly one record is
// written per turn, once the action is definite.
func (t *turn) writeAudit(action audit.Action, reason string) {
	rec := audit.Record{
		UserID:         t.user.ID,
		ConversationID: t.conversationID,
		Input:          t.req.Message,
		Route:          string(t.decision.Route),
		RouteLocked:    t.decision.LockHeld,
		LockRemaining:  t.decision.LockRemaining,
		AgeVerified:    t.session.AgeVerified,
		Action:         action,
		Reason:         reason,
	}
	if t.classification != nil {
		rec.Label = string(t.classification.Label)
		rec.Confidence = t.classification.Confidence
		rec.Indicators = t.classification.Indicators
	}
	if err := t.o.audit.Write(rec); err != nil {
		slog.Error("audit write failed", "conversation", t.conversationID, "error", err)
	}
}

// queueFollowUp hands the turn's detached work to the background pool. The
// buffer snapshot is taken here, before the next turn can start, so the
// extraction for this turn never observes later messages.
func (t *turn) queueFollowUp(extract bool) {
	o := t.o
	if o.background == nil {
		return
	}
	j := &job{
		conversationID: t.conversationID,
		userID:         t.user.ID,
		personalityID:  t.personality.ID,
		userMessage:    t.req.Message,
		assistantText:  t.assistantText,
		evicted:        t.evicted,
	}
	if extract {
		j.turns = o.buffer.Recent(context.Background(), t.conversationID, 0)
		j.signals = t.goalSignals
		j.generateTitle = t.assistantText != "" &&
			(t.conversation.Title == "" || t.conversation.TitleSource == store.TitleSourceDefault)
	}
	if !o.background.enqueue(j) {
		slog.Warn("background pool stopped, follow-up dropped", "conversation", t.conversationID)
	}
}

// directiveUpdate folds a detected directive into a personality update.
// An archetype switch rebases traits and behaviors on the preset before
// individual deltas apply.
func directiveUpdate(current *store.Personality, d *analyzers.PersonalityDirective) *store.UpdatePersonality {
	update := &store.UpdatePersonality{ID: current.ID}
	traits := current.Traits
	behaviors := current.Behaviors

	if d.Archetype != "" {
		if preset, ok := persona.Archetypes[d.Archetype]; ok {
			traits = preset.Traits
			behaviors = preset.Behaviors
			update.Archetype = &preset.Name
			if preset.RelationshipType != "" {
				update.RelationshipType = &preset.RelationshipType
			}
			if preset.SpeakingStyle != "" {
				update.SpeakingStyle = &preset.SpeakingStyle
			}
		}
	}

	for name, delta := range d.TraitDeltas {
		applyTraitDelta(&traits, name, delta)
	}
	for name, on := range d.Behaviors {
		applyBehavior(&behaviors, name, on)
	}

	update.Traits = &traits
	update.Behaviors = &behaviors
	return update
}

func applyTraitDelta(traits *store.PersonalityTraits, name string, delta int) {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > 10 {
			return 10
		}
		return v
	}
	switch name {
	case "warmth":
		traits.Warmth = clamp(traits.Warmth + delta)
	case "humor":
		traits.Humor = clamp(traits.Humor + delta)
	case "empathy":
		traits.Empathy = clamp(traits.Empathy + delta)
	case "playfulness":
		traits.Playfulness = clamp(traits.Playfulness + delta)
	case "assertiveness":
		traits.Assertiveness = clamp(traits.Assertiveness + delta)
	case "curiosity":
		traits.Curiosity = clamp(traits.Curiosity + delta)
	case "formality":
		traits.Formality = clamp(traits.Formality + delta)
	case "flirtatiousness":
		traits.Flirtatiousness = clamp(traits.Flirtatiousness + delta)
	}
}

func applyBehavior(behaviors *store.PersonalityBehaviors, name string, on bool) {
	switch name {
	case "initiates_topics":
		behaviors.InitiatesTopics = on
	case "asks_follow_ups":
		behaviors.AsksFollowUps = on
	case "uses_pet_names":
		behaviors.UsesPetNames = on
	case "remembers_callbacks":
		behaviors.RemembersCallbacks = on
	case "adapts_to_mood":
		behaviors.AdaptsToMood = on
	}
}
