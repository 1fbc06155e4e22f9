package orchestrator

import (
	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/ai/routing"
)

// ModelSet resolves the chat service for a route decision plus the
// small-task service used for titles and summaries. Implementations
// pre-build one service per (backend, route) pair at startup so per-route
// temperature and token limits are baked into the client.
type ModelSet interface {
	// Chat returns the service for a backend and route, or nil when the
	// backend is not configured.
	Chat(backend routing.Backend, route routing.Route) llm.Service

	// Utility returns the small-task service, or nil when none is
	// configured. Title generation and summarization are skipped without it.
	Utility() llm.Service
}

// StaticModels is a fixed ModelSet assembled at startup.
type StaticModels struct {
	// Hosted serves every hosted route without a PerRoute override.
	Hosted llm.Service

	// Local serves the local backend. Nil means explicit routes fall back
	// to the hosted client immediately.
	Local llm.Service

	// PerRoute overrides the hosted service for routes tuned differently,
	// e.g. a higher-temperature client for the romance route.
	PerRoute map[routing.Route]llm.Service

	// Small is the small-task service. Nil falls back to Hosted.
	Small llm.Service
}

func (m *StaticModels) Chat(backend routing.Backend, route routing.Route) llm.Service {
	if backend == routing.BackendLocal {
		return m.Local
	}
	if svc, ok := m.PerRoute[route]; ok && svc != nil {
		return svc
	}
	return m.Hosted
}

func (m *StaticModels) Utility() llm.Service {
	if m.Small != nil {
		return m.Small
	}
	return m.Hosted
}
