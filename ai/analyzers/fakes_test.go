package analyzers

import (
	"context"
	"errors"
	"sync"

	"github.com/reveriehq/reverie/ai/core/llm"
)

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
		return "{}", &llm.CallStats{}, nil
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
