package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/store"
)

// fakeMemoryStore implements Store with real in-memory semantics: vector
// search runs actual cosine similarity over stored rows.
type fakeMemoryStore struct {
	mu       sync.Mutex
	memories []*store.Memory
	nextID   int

	recentUsers []string

	failSearch    error
	failCreate    error
	failListUsers error

	accessedIDs []string
	searchCalls int
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{}
}

func (f *fakeMemoryStore) add(m *store.Memory) *store.Memory {
	f.nextID++
	if m.ID == "" {
		m.ID = fmt.Sprintf("m%d", f.nextID)
	}
	if m.CreatedTs == 0 {
		m.CreatedTs = int64(1000 + f.nextID)
	}
	m.IsActive = true
	f.memories = append(f.memories, m)
	return m
}

// seed inserts a row directly, bypassing error injection.
func (f *fakeMemoryStore) seed(m *store.Memory) *store.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(m)
}

func (f *fakeMemoryStore) get(id string) *store.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memories {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeMemoryStore) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(create), nil
}

func (f *fakeMemoryStore) CreateMemorySuperseding(ctx context.Context, create *store.Memory, supersededIDs []string) (*store.Memory, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	created := f.add(create)
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

func (f *fakeMemoryStore) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
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

func (f *fakeMemoryStore) MemoryVectorSearch(ctx context.Context, opts *store.MemoryVectorSearchOptions) ([]*store.MemoryWithScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.failSearch != nil {
		return nil, f.failSearch
	}
	var out []*store.MemoryWithScore
	for _, m := range f.memories {
		if !m.IsActive || m.UserID != opts.UserID || m.PersonalityID != opts.PersonalityID {
			continue
		}
		if len(opts.Types) > 0 && !containsType(opts.Types, m.Type) {
			continue
		}
		score := cosineSimilarity(opts.Vector, m.Embedding)
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

func containsType(types []store.MemoryType, t store.MemoryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (f *fakeMemoryStore) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
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
		if update.Category != nil {
			m.Category = *update.Category
		}
		if update.IsActive != nil {
			m.IsActive = *update.IsActive
		}
		return m, nil
	}
	return nil, errors.New("memory not found")
}

func (f *fakeMemoryStore) MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessedIDs = append(f.accessedIDs, ids...)
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

func (f *fakeMemoryStore) SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error {
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

func (f *fakeMemoryStore) ListRecentlyActiveUsers(ctx context.Context, since int64, limit int) ([]string, error) {
	if f.failListUsers != nil {
		return nil, f.failListUsers
	}
	users := f.recentUsers
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeMemoryStore) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.memories {
		if m.IsActive {
			n++
		}
	}
	return n
}

// fakeEmbedder returns fixture vectors by exact text, or a distinct basis
// vector per unseen text so unrelated contents read as orthogonal.
type fakeEmbedder struct {
	mu       sync.Mutex
	fixtures map[string][]float32
	assigned map[string][]float32
	next     int
	fail     error
}

const fakeDims = 8

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
	if f.fail != nil {
		return nil, f.fail
	}
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
		v := make([]float32, fakeDims)
		v[f.next%fakeDims] = 1
		f.next++
		f.assigned[key] = v
		out[i] = v
	}
	return out, nil
}

// basisVector returns a unit vector on the given axis.
func basisVector(axis int) []float32 {
	v := make([]float32, fakeDims)
	v[axis%fakeDims] = 1
	return v
}

// fakeLLM returns canned ChatJSON responses in sequence.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	return "", nil, errors.New("not implemented")
}

func (f *fakeLLM) ChatJSON(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	if len(f.responses) == 0 {
		return "[]", &llm.CallStats{}, nil
	}
	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return response, &llm.CallStats{}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.CallStats, <-chan error) {
	content := make(chan string)
	stats := make(chan *llm.CallStats)
	errs := make(chan error)
	close(content)
	close(stats)
	close(errs)
	return content, stats, errs
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) Warmup(ctx context.Context) {}
