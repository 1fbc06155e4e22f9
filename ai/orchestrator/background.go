package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/memory"
	"github.com/reveriehq/reverie/store"
)

// job is the detached work queued after a turn's final event. The turn
// snapshot is captured at enqueue time, so a job never observes messages
// from later turns.
type job struct {
	conversationID string
	userID         string
	personalityID  string
	userMessage    string
	assistantText  string

	// turns is the buffer snapshot for memory extraction. Nil skips it.
	turns []buffer.Entry

	// signals are the goal signals to persist. Nil skips it.
	signals []analyzers.GoalSignal

	// evicted entries fold into the conversation's rolling summary.
	evicted []buffer.Entry

	generateTitle bool
}

// pool runs post-turn jobs on a fixed set of workers. The queue is
// bounded; when full, the oldest queued job is dropped rather than
// blocking a live turn.
type pool struct {
	o       *Orchestrator
	queue   chan *job
	timeout time.Duration
	workers int

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func newPool(o *Orchestrator, workers, queueSize int, timeout time.Duration) *pool {
	return &pool{
		o:       o,
		queue:   make(chan *job, queueSize),
		timeout: timeout,
		workers: workers,
	}
}

func (p *pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	slog.Info("background pool started", "workers", p.workers, "queue", cap(p.queue))
}

// stop drains remaining jobs and waits for the workers to finish.
func (p *pool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	slog.Info("background pool stopped")
}

// enqueue adds a job, evicting the oldest queued job when the queue is
// full. Returns false once the pool is stopped.
func (p *pool) enqueue(j *job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	for {
		select {
		case p.queue <- j:
			return true
		default:
		}
		select {
		case old := <-p.queue:
			slog.Warn("background queue full, dropping oldest job",
				"dropped_conversation", old.conversationID)
			p.o.metrics.RecordBackgroundFailure("queue_overflow")
		default:
		}
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

// run executes one job's sub-tasks independently. Failures are logged and
// counted, never surfaced to any turn.
func (p *pool) run(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	p.persistGoalSignals(ctx, j)
	p.extractMemories(ctx, j)
	p.summarizeEvicted(ctx, j)
	p.generateTitle(ctx, j)

	slog.Debug("background job done",
		"conversation", j.conversationID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

// persistGoalSignals writes the turn's goal signals: new goals become
// rows, everything else becomes a progress event on its goal.
func (p *pool) persistGoalSignals(ctx context.Context, j *job) {
	if len(j.signals) == 0 {
		return
	}
	st := p.o.store
	now := time.Now().Unix()

	for _, sig := range j.signals {
		switch sig.Kind {
		case analyzers.GoalSignalNew:
			goal := &store.Goal{
				UserID:          j.userID,
				Title:           sig.Title,
				Category:        sig.Category,
				Motivation:      sig.Motivation,
				TargetDateTs:    sig.TargetTs,
				Status:          store.GoalStatusActive,
				LastMentionedTs: now,
				MentionCount:    1,
			}
			if _, err := st.CreateGoal(ctx, goal); err != nil {
				slog.Warn("create goal failed", "user", j.userID, "title", sig.Title, "error", err)
				p.o.metrics.RecordBackgroundFailure("goal_create")
			}

		default:
			if sig.GoalID == "" {
				continue
			}
			if _, err := st.CreateGoalProgress(ctx, &store.GoalProgress{
				GoalID:         sig.GoalID,
				UserID:         j.userID,
				Type:           sig.Kind.ProgressType(),
				Content:        sig.Note,
				Delta:          progressDelta(sig.Kind),
				ConversationID: j.conversationID,
			}); err != nil {
				slog.Warn("record goal progress failed", "goal", sig.GoalID, "error", err)
				p.o.metrics.RecordBackgroundFailure("goal_progress")
				continue
			}
			p.advanceGoal(ctx, j, sig, now)
		}
	}
}

// progressDelta is the fixed progress movement per signal kind.
func progressDelta(kind analyzers.GoalSignalKind) float64 {
	switch kind {
	case analyzers.GoalSignalProgress:
		return 10
	case analyzers.GoalSignalSetback:
		return -5
	case analyzers.GoalSignalCompletion:
		return 100
	default:
		return 0
	}
}

// advanceGoal folds one signal into the goal row: mention bookkeeping,
// progress movement clamped to [0,100], completion state.
func (p *pool) advanceGoal(ctx context.Context, j *job, sig analyzers.GoalSignal, now int64) {
	st := p.o.store
	goal, err := st.GetGoal(ctx, sig.GoalID)
	if err != nil || goal == nil {
		slog.Warn("goal lookup failed", "goal", sig.GoalID, "error", err)
		p.o.metrics.RecordBackgroundFailure("goal_update")
		return
	}

	mentions := goal.MentionCount + 1
	update := &store.UpdateGoal{
		ID:              goal.ID,
		LastMentionedTs: &now,
		MentionCount:    &mentions,
	}

	switch sig.Kind {
	case analyzers.GoalSignalProgress, analyzers.GoalSignalSetback:
		progress := goal.Progress + progressDelta(sig.Kind)
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		update.Progress = &progress
	case analyzers.GoalSignalCompletion:
		progress := 100.0
		status := store.GoalStatusCompleted
		update.Progress = &progress
		update.Status = &status
		update.CompletedTs = &now
	}

	if _, err := st.UpdateGoal(ctx, update); err != nil {
		slog.Warn("goal update failed", "goal", goal.ID, "error", err)
		p.o.metrics.RecordBackgroundFailure("goal_update")
	}
}

func (p *pool) extractMemories(ctx context.Context, j *job) {
	if p.o.extractor == nil || len(j.turns) == 0 {
		return
	}
	scope := memory.Scope{
		UserID:         j.userID,
		PersonalityID:  j.personalityID,
		ConversationID: j.conversationID,
	}
	count, err := p.o.extractor.ExtractAndStore(ctx, scope, j.turns)
	if err != nil {
		slog.Warn("memory extraction failed", "conversation", j.conversationID, "error", err)
		p.o.metrics.RecordBackgroundFailure("memory_extraction")
		return
	}
	if count > 0 {
		p.o.metrics.RecordExtraction("total", count)
		slog.Debug("memories extracted", "conversation", j.conversationID, "count", count)
	}
}

// summarizeEvicted folds entries that fell out of the short-term window
// into the conversation's rolling summary.
func (p *pool) summarizeEvicted(ctx context.Context, j *job) {
	if len(j.evicted) == 0 {
		return
	}
	existing := p.o.buffer.Summary(ctx, j.conversationID)
	updated := summarize(ctx, p.o.models.Utility(), existing, j.evicted)
	if updated == "" || updated == existing {
		return
	}
	p.o.buffer.SetSummary(ctx, j.conversationID, updated)
}

func (p *pool) generateTitle(ctx context.Context, j *job) {
	if !j.generateTitle {
		return
	}
	title := titleFor(ctx, p.o.models.Utility(), j.userMessage, j.assistantText)
	if title == "" {
		return
	}
	source := store.TitleSourceAuto
	if _, err := p.o.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:          j.conversationID,
		Title:       &title,
		TitleSource: &source,
	}); err != nil {
		slog.Warn("conversation title update failed", "conversation", j.conversationID, "error", err)
		p.o.metrics.RecordBackgroundFailure("title")
	}
}
