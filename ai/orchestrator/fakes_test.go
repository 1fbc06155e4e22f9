package orchestrator

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/ai/moderation"
	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/store"
)

// fakeStore is an in-memory data layer shared by the turn pipeline, the
// persona manager, and the memory components, so one fixture backs a whole
// orchestrator. Background workers touch it concurrently with assertions,
// hence the mutex on every method.
type fakeStore struct {
	mu sync.Mutex

	systemUserID  string
	users         map[string]*store.User // keyed by external ID
	personalities map[string]*store.Personality
	conversations map[string]*store.Conversation
	messages      []*store.Message
	prefs         map[string]*store.UserPreferences
	emotions      []*store.EmotionEntry
	relationships map[string]*store.Relationship
	goals         map[string]*store.Goal
	progress      []*store.GoalProgress
	memories      []*store.Memory

	seq int

	failEnsureUser error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		systemUserID:  "system-user-id",
		users:         map[string]*store.User{},
		personalities: map[string]*store.Personality{},
		conversations: map[string]*store.Conversation{},
		prefs:         map[string]*store.UserPreferences{},
		relationships: map[string]*store.Relationship{},
		goals:         map[string]*store.Goal{},
	}
}

// nextSeq mints a monotonic sequence number; callers hold f.mu.
func (f *fakeStore) nextSeq() int {
	f.seq++
	return f.seq
}

func (f *fakeStore) nextTs() int64 {
	return 1_700_000_000 + int64(f.nextSeq())
}

// seedPersonality inserts a row directly, bypassing Create bookkeeping.
func (f *fakeStore) seedPersonality(p *store.Personality) *store.Personality {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	f.personalities[p.ID] = p
	return p
}

// verifyAge marks the external user as age verified, creating the row if
// the user has not chatted yet.
func (f *fakeStore) verifyAge(externalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[externalID]
	if !ok {
		u = &store.User{ID: "uid-" + externalID, ExternalID: externalID, CreatedTs: f.nextTs()}
		f.users[externalID] = u
	}
	u.AgeVerifiedTs = time.Now().Unix()
}

// --- orchestrator.Store ---

func (f *fakeStore) EnsureUser(_ context.Context, externalID string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsureUser != nil {
		return nil, f.failEnsureUser
	}
	if u, ok := f.users[externalID]; ok {
		u.LastActiveTs = time.Now().Unix()
		return u, nil
	}
	u := &store.User{
		ID:           "uid-" + externalID,
		ExternalID:   externalID,
		CreatedTs:    f.nextTs(),
		LastActiveTs: time.Now().Unix(),
	}
	f.users[externalID] = u
	return u, nil
}

func (f *fakeStore) EnsureConversation(_ context.Context, ensure *store.Conversation) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[ensure.ID]; ok {
		c.UpdatedTs = f.nextTs()
		return c, nil
	}
	c := &store.Conversation{
		ID:            ensure.ID,
		UserID:        ensure.UserID,
		PersonalityID: ensure.PersonalityID,
		TitleSource:   store.TitleSourceDefault,
		CreatedTs:     f.nextTs(),
		UpdatedTs:     f.nextTs(),
	}
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeStore) UpdateConversation(_ context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[update.ID]
	if !ok {
		return nil, errors.New("conversation not found")
	}
	if update.Title != nil {
		c.Title = *update.Title
	}
	if update.TitleSource != nil {
		c.TitleSource = *update.TitleSource
	}
	if update.UpdatedTs != nil {
		c.UpdatedTs = *update.UpdatedTs
	}
	return c, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &store.Message{
		ID:             "msg" + itoa(f.nextSeq()),
		ConversationID: create.ConversationID,
		Role:           create.Role,
		Content:        create.Content,
		CreatedTs:      f.nextTs(),
	}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeStore) UpsertUserPreferences(_ context.Context, upsert *store.UpsertUserPreferences) (*store.UserPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[upsert.UserID]
	if !ok {
		p = &store.UserPreferences{UserID: upsert.UserID}
		f.prefs[upsert.UserID] = p
	}
	if upsert.Language != nil {
		p.Language = *upsert.Language
	}
	if upsert.Formality != nil {
		p.Formality = *upsert.Formality
	}
	if upsert.Tone != nil {
		p.Tone = *upsert.Tone
	}
	if upsert.EmojiUsage != nil {
		p.EmojiUsage = *upsert.EmojiUsage
	}
	if upsert.ResponseLength != nil {
		p.ResponseLength = *upsert.ResponseLength
	}
	if upsert.ExplanationStyle != nil {
		p.ExplanationStyle = *upsert.ExplanationStyle
	}
	p.UpdatedTs = f.nextTs()
	return p, nil
}

func (f *fakeStore) GetUserPreferences(_ context.Context, find *store.FindUserPreferences) (*store.UserPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[find.UserID], nil
}

func (f *fakeStore) CreateEmotion(_ context.Context, create *store.EmotionEntry) (*store.EmotionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &store.EmotionEntry{
		ID:             "emo" + itoa(f.nextSeq()),
		UserID:         create.UserID,
		ConversationID: create.ConversationID,
		Emotion:        create.Emotion,
		Confidence:     create.Confidence,
		Intensity:      create.Intensity,
		Indicators:     create.Indicators,
		MessageSnippet: create.MessageSnippet,
		CreatedTs:      f.nextTs(),
	}
	f.emotions = append(f.emotions, e)
	return e, nil
}

func (f *fakeStore) ListEmotions(_ context.Context, find *store.FindEmotion) ([]*store.EmotionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.EmotionEntry
	for _, e := range f.emotions {
		if find.UserID != nil && e.UserID != *find.UserID {
			continue
		}
		if find.ConversationID != nil && e.ConversationID != *find.ConversationID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTs > out[j].CreatedTs })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpsertRelationship(_ context.Context, upsert *store.UpsertRelationship) (*store.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := upsert.UserID + "/" + upsert.PersonalityID
	r, ok := f.relationships[key]
	if !ok {
		r = &store.Relationship{
			UserID:             upsert.UserID,
			PersonalityID:      upsert.PersonalityID,
			FirstInteractionTs: upsert.InteractionTs,
		}
		f.relationships[key] = r
	}
	r.TotalMessages += upsert.TotalMessagesDelta
	r.PositiveReactions += upsert.PositiveReactionsDelta
	r.NegativeReactions += upsert.NegativeReactionsDelta
	if upsert.DepthScore != nil {
		r.DepthScore = *upsert.DepthScore
	}
	if upsert.TrustLevel != nil {
		r.TrustLevel = *upsert.TrustLevel
	}
	if upsert.Milestones != nil {
		r.Milestones = *upsert.Milestones
	}
	if upsert.InteractionTs > 0 {
		r.LastInteractionTs = upsert.InteractionTs
	}
	return r, nil
}

func (f *fakeStore) ListGoals(_ context.Context, find *store.FindGoal) ([]*store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Goal
	for _, g := range f.goals {
		if find.ID != nil && g.ID != *find.ID {
			continue
		}
		if find.UserID != nil && g.UserID != *find.UserID {
			continue
		}
		if find.Status != nil && g.Status != *find.Status {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTs > out[j].CreatedTs })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeStore) GetGoal(_ context.Context, id string) (*store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.goals[id], nil
}

func (f *fakeStore) CreateGoal(_ context.Context, create *store.Goal) (*store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := *create
	if g.ID == "" {
		g.ID = "goal" + itoa(f.nextSeq())
	}
	g.CreatedTs = f.nextTs()
	f.goals[g.ID] = &g
	return &g, nil
}

func (f *fakeStore) CreateGoalProgress(_ context.Context, create *store.GoalProgress) (*store.GoalProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *create
	p.ID = "gp" + itoa(f.nextSeq())
	p.CreatedTs = f.nextTs()
	f.progress = append(f.progress, &p)
	return &p, nil
}

func (f *fakeStore) UpdateGoal(_ context.Context, update *store.UpdateGoal) (*store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.goals[update.ID]
	if !ok {
		return nil, errors.New("goal not found")
	}
	if update.Title != nil {
		g.Title = *update.Title
	}
	if update.Status != nil {
		g.Status = *update.Status
	}
	if update.Progress != nil {
		g.Progress = *update.Progress
	}
	if update.CompletedTs != nil {
		g.CompletedTs = *update.CompletedTs
	}
	if update.LastMentionedTs != nil {
		g.LastMentionedTs = *update.LastMentionedTs
	}
	if update.MentionCount != nil {
		g.MentionCount = *update.MentionCount
	}
	return g, nil
}

// --- persona.Store ---

func (f *fakeStore) SystemUserID(_ context.Context) (string, error) {
	return f.systemUserID, nil
}

func (f *fakeStore) ResolvePersonality(_ context.Context, userID, name string) (*store.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.personalities {
		if p.OwnerUserID == userID && p.Name == name {
			return p, nil
		}
	}
	for _, p := range f.personalities {
		if p.OwnerUserID == f.systemUserID && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPersonality(_ context.Context, id string) (*store.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.personalities[id], nil
}

func (f *fakeStore) CreatePersonality(_ context.Context, create *store.Personality) (*store.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if create.ID == "" {
		create.ID = "pers" + itoa(f.nextSeq())
	}
	create.Version = 1
	f.personalities[create.ID] = create
	return create, nil
}

func (f *fakeStore) UpdatePersonality(_ context.Context, update *store.UpdatePersonality) (*store.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personalities[update.ID]
	if !ok {
		return nil, errors.New("personality not found")
	}
	if update.Archetype != nil {
		p.Archetype = *update.Archetype
	}
	if update.RelationshipType != nil {
		p.RelationshipType = *update.RelationshipType
	}
	if update.Traits != nil {
		p.Traits = *update.Traits
	}
	if update.Behaviors != nil {
		p.Behaviors = *update.Behaviors
	}
	if update.Backstory != nil {
		p.Backstory = *update.Backstory
	}
	if update.CustomInstructions != nil {
		p.CustomInstructions = *update.CustomInstructions
	}
	if update.SpeakingStyle != nil {
		p.SpeakingStyle = *update.SpeakingStyle
	}
	p.Version++
	return p, nil
}

func (f *fakeStore) DeletePersonality(_ context.Context, del *store.DeletePersonality) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.personalities, del.ID)
	return nil
}

func (f *fakeStore) ListPersonalities(_ context.Context, find *store.FindPersonality) ([]*store.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := []*store.Personality{}
	for _, p := range f.personalities {
		if find.ID != nil && p.ID != *find.ID {
			continue
		}
		if find.OwnerUserID != nil && p.OwnerUserID != *find.OwnerUserID {
			continue
		}
		if find.Name != nil && p.Name != *find.Name {
			continue
		}
		list = append(list, p)
	}
	return list, nil
}

// --- memory.Store ---

func (f *fakeStore) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addMemory(create), nil
}

func (f *fakeStore) addMemory(m *store.Memory) *store.Memory {
	if m.ID == "" {
		m.ID = "mem" + itoa(f.nextSeq())
	}
	m.IsActive = true
	m.CreatedTs = f.nextTs()
	f.memories = append(f.memories, m)
	return m
}

func (f *fakeStore) CreateMemorySuperseding(_ context.Context, create *store.Memory, supersededIDs []string) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := f.addMemory(create)
	for _, m := range f.memories {
		for _, id := range supersededIDs {
			if m.ID == id {
				m.IsActive = false
				m.SupersededBy = created.ID
			}
		}
	}
	return created, nil
}

func (f *fakeStore) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Memory
	for _, m := range f.memories {
		if find.UserID != nil && m.UserID != *find.UserID {
			continue
		}
		if find.PersonalityID != nil && m.PersonalityID != *find.PersonalityID {
			continue
		}
		if find.Type != nil && m.Type != *find.Type {
			continue
		}
		if find.IsActive != nil && m.IsActive != *find.IsActive {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTs > out[j].CreatedTs })
	if find.Limit != nil && len(out) > *find.Limit {
		out = out[:*find.Limit]
	}
	return out, nil
}

func (f *fakeStore) MemoryVectorSearch(_ context.Context, opts *store.MemoryVectorSearchOptions) ([]*store.MemoryWithScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.MemoryWithScore
	for _, m := range f.memories {
		if !m.IsActive || m.UserID != opts.UserID || m.PersonalityID != opts.PersonalityID {
			continue
		}
		if len(opts.Types) > 0 && !hasMemoryType(opts.Types, m.Type) {
			continue
		}
		score := cosine(opts.Vector, m.Embedding)
		if score < opts.MinSimilarity {
			continue
		}
		out = append(out, &store.MemoryWithScore{Memory: m, Score: float32(score)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateMemory(_ context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memories {
		if m.ID != update.ID {
			continue
		}
		if update.Importance != nil {
			m.Importance = *update.Importance
		}
		if update.DecayFactor != nil {
			m.DecayFactor = *update.DecayFactor
		}
		if update.IsActive != nil {
			m.IsActive = *update.IsActive
		}
		return m, nil
	}
	return nil, errors.New("memory not found")
}

func (f *fakeStore) MarkMemoriesAccessed(_ context.Context, ids []string, accessedTs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memories {
		for _, id := range ids {
			if m.ID == id {
				m.AccessCount++
				m.LastAccessedTs = accessedTs
			}
		}
	}
	return nil
}

func (f *fakeStore) SupersedeMemories(_ context.Context, supersededByID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memories {
		for _, id := range ids {
			if m.ID == id {
				m.IsActive = false
				m.SupersededBy = supersededByID
			}
		}
	}
	return nil
}

func (f *fakeStore) ListRecentlyActiveUsers(_ context.Context, since int64, limit int) ([]string, error) {
	return nil, nil
}

func hasMemoryType(types []store.MemoryType, t store.MemoryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- inspection helpers ---

func (f *fakeStore) messagesFor(conversationID string) []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeStore) conversation(id string) *store.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[id]
}

func (f *fakeStore) relationship(userID, personalityID string) *store.Relationship {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relationships[userID+"/"+personalityID]
}

func (f *fakeStore) activeMemoryContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.memories {
		if m.IsActive {
			out = append(out, m.Content)
		}
	}
	return out
}

func (f *fakeStore) memoryByContent(substr string) *store.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memories {
		if strings.Contains(m.Content, substr) {
			return m
		}
	}
	return nil
}

func (f *fakeStore) goalByTitle(substr string) *store.Goal {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.goals {
		if strings.Contains(g.Title, substr) {
			return g
		}
	}
	return nil
}

func (f *fakeStore) progressFor(goalID string) []*store.GoalProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.GoalProgress
	for _, p := range f.progress {
		if p.GoalID == goalID {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeStore) userPrefs(userID string) *store.UserPreferences {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[userID]
}

func (f *fakeStore) emotionsFor(userID string) []*store.EmotionEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.EmotionEntry
	for _, e := range f.emotions {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// streamLLM is a scripted llm.Service. ChatStream returns the configured
// chunks (and error) on pre-filled buffered channels; when hold is set the
// channels stay open until hold is closed, so tests can cancel mid-stream.
type streamLLM struct {
	mu           sync.Mutex
	model        string
	chunks       []string
	streamErr    error
	jsonResponse string
	jsonErr      error
	hold         chan struct{}

	streamCalls  int
	jsonCalls    int
	lastMessages []llm.Message
}

func (f *streamLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	return "", nil, errors.New("not implemented")
}

func (f *streamLLM) ChatJSON(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls++
	if f.jsonErr != nil {
		return "", nil, f.jsonErr
	}
	if f.jsonResponse == "" {
		return "{}", &llm.CallStats{}, nil
	}
	return f.jsonResponse, &llm.CallStats{}, nil
}

func (f *streamLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.CallStats, <-chan error) {
	f.mu.Lock()
	f.streamCalls++
	f.lastMessages = append([]llm.Message(nil), messages...)
	chunks := append([]string(nil), f.chunks...)
	streamErr := f.streamErr
	hold := f.hold
	f.mu.Unlock()

	content := make(chan string, len(chunks))
	stats := make(chan *llm.CallStats, 1)
	errs := make(chan error, 1)
	for _, c := range chunks {
		content <- c
	}
	if streamErr != nil {
		errs <- streamErr
	}
	if hold != nil {
		go func() {
			<-hold
			close(content)
			close(stats)
			close(errs)
		}()
	} else {
		close(content)
		close(stats)
		close(errs)
	}
	return content, stats, errs
}

func (f *streamLLM) Model() string {
	if f.model == "" {
		return "fake"
	}
	return f.model
}

func (f *streamLLM) Warmup(ctx context.Context) {}

func (f *streamLLM) calls() (stream, json int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls, f.jsonCalls
}

func (f *streamLLM) systemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lastMessages) == 0 || f.lastMessages[0].Role != "system" {
		return ""
	}
	return f.lastMessages[0].Content
}

func (f *streamLLM) messages() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Message(nil), f.lastMessages...)
}

// fakeEmbedder returns fixture vectors by exact lowercased text, assigning
// a fresh basis vector to unseen text so unrelated contents stay
// orthogonal.
type fakeEmbedder struct {
	mu       sync.Mutex
	fixtures map[string][]float32
	assigned map[string][]float32
	next     int
}

const embedderDims = 8

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		fixtures: make(map[string][]float32),
		assigned: make(map[string][]float32),
	}
}

func (f *fakeEmbedder) set(text string, vector []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures[strings.ToLower(text)] = vector
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		key := strings.ToLower(text)
		if v, ok := f.fixtures[key]; ok {
			out[i] = v
			continue
		}
		if v, ok := f.assigned[key]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, embedderDims)
		v[f.next%embedderDims] = 1
		f.next++
		f.assigned[key] = v
		out[i] = v
	}
	return out, nil
}

func axisVector(axis int) []float32 {
	v := make([]float32, embedderDims)
	v[axis%embedderDims] = 1
	return v
}

// testEnv assembles a full orchestrator over fakes. Tests may adjust cfg
// before calling start.
type testEnv struct {
	st       *fakeStore
	buf      *buffer.Local
	sessions *routing.SessionManager
	personas *persona.Manager
	hosted   *streamLLM
	local    *streamLLM
	elara    *store.Personality
	cfg      Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := newFakeStore()
	elara := st.seedPersonality(&store.Personality{
		ID:               "pers-elara",
		OwnerUserID:      st.systemUserID,
		Name:             "elara",
		Archetype:        "caring_companion",
		RelationshipType: "companion",
		Traits: store.PersonalityTraits{
			Warmth: 9, Humor: 5, Empathy: 9, Playfulness: 4,
			Assertiveness: 3, Curiosity: 7, Formality: 3, Flirtatiousness: 1,
		},
		Behaviors: store.PersonalityBehaviors{
			InitiatesTopics: true, AsksFollowUps: true,
			RemembersCallbacks: true, AdaptsToMood: true,
		},
		SpeakingStyle: "Gentle and attentive.",
	})

	buf := buffer.NewLocal(10, time.Hour)
	t.Cleanup(buf.Close)

	sessions := routing.NewSessionManager(3, time.Hour)
	t.Cleanup(sessions.Close)

	personas := persona.NewManager(st)
	t.Cleanup(personas.Close)

	hosted := &streamLLM{model: "hosted-model", chunks: []string{"Of course. ", "Tell me more."}}
	local := &streamLLM{model: "local-model", chunks: []string{"Closer now. ", "Stay with me."}}

	env := &testEnv{
		st:       st,
		buf:      buf,
		sessions: sessions,
		personas: personas,
		hosted:   hosted,
		local:    local,
		elara:    elara,
		cfg: Config{
			Store:       st,
			Buffer:      buf,
			Classifier:  moderation.NewClassifier(moderation.Config{}),
			Router:      routing.NewRouter(),
			Sessions:    sessions,
			Personas:    personas,
			Models:      &StaticModels{Hosted: hosted, Local: local},
			Preferences: analyzers.NewPreferenceAnalyzer(nil, analyzers.PreferenceConfig{}),
			Personality: analyzers.NewPersonalityDetector(nil, analyzers.PersonalityConfig{}),
			Emotions:    analyzers.NewEmotionDetector(nil, analyzers.EmotionConfig{}),
			Goals:       analyzers.NewGoalDetector(nil, analyzers.GoalConfig{}),
			Workers:     1,
			QueueSize:   8,
			JobTimeout:  5 * time.Second,
		},
	}
	return env
}

func (e *testEnv) start(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(e.cfg)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

// turn runs one request to completion and returns every event.
func (e *testEnv) turn(t *testing.T, o *Orchestrator, req ChatRequest) []Event {
	t.Helper()
	events, err := o.StreamChat(context.Background(), req)
	require.NoError(t, err)
	return collectEvents(t, events)
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream never closed; got %d events", len(events))
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func chunkText(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventChunk {
			sb.WriteString(ev.Chunk)
		}
	}
	return sb.String()
}

func findEvent(events []Event, typ EventType) (Event, bool) {
	for _, ev := range events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

func thinkingStep(events []Event, step string) (Event, bool) {
	for _, ev := range events {
		if ev.Type == EventThinking && ev.Step == step {
			return ev, true
		}
	}
	return Event{}, false
}

// routedTo returns the route announced by the routing thinking step.
func routedTo(t *testing.T, events []Event) string {
	t.Helper()
	ev, ok := thinkingStep(events, "routing")
	require.True(t, ok, "no routing step in %v", eventTypes(events))
	route, _ := ev.Data["route"].(string)
	return route
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, what)
}
