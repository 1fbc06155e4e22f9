// Package routing maps moderation labels to generation routes and tracks
// per-conversation route state: lock-in, age verification, refusals.
package routing

import (
	"sync"

	"github.com/reveriehq/reverie/ai/moderation"
)

// Route names a generation mode with its own backend and prompt.
type Route string

const (
	RouteNormal      Route = "NORMAL"
	RouteRomance     Route = "ROMANCE"
	RouteExplicit    Route = "EXPLICIT"
	RouteFetish      Route = "FETISH"
	RouteRefusal     Route = "REFUSAL"
	RouteHardRefusal Route = "HARD_REFUSAL"
)

// Backend selects which LLM client serves a route.
type Backend string

const (
	BackendHosted Backend = "hosted"
	BackendLocal  Backend = "local"
)

var routeForLabel = map[moderation.Label]Route{
	moderation.LabelSafe:          RouteNormal,
	moderation.LabelSuggestive:    RouteRomance,
	moderation.LabelExplicit:      RouteExplicit,
	moderation.LabelFetish:        RouteFetish,
	moderation.LabelNonconsensual: RouteRefusal,
	moderation.LabelMinorRisk:     RouteHardRefusal,
}

// RouteForLabel maps a classification label to its route. Unknown labels
// route to NORMAL.
func RouteForLabel(label moderation.Label) Route {
	if route, ok := routeForLabel[label]; ok {
		return route
	}
	return RouteNormal
}

// Config carries everything a route needs to produce a response.
type Config struct {
	Route       Route
	Backend     Backend
	Temperature float32
	MaxTokens   int

	// SystemPrompt is the route's fixed prompt. On age-restricted routes it
	// replaces the built persona prompt entirely; on other routes the
	// builder appends it as scene guidance. Empty means the builder's
	// output is used unchanged.
	SystemPrompt string

	// FallbackSystemPrompt is the safer hosted-provider variant used when a
	// local client fails to connect on an explicit route.
	FallbackSystemPrompt string

	// RefusalMessage, when non-empty, is streamed verbatim and suppresses
	// model invocation.
	RefusalMessage string

	// AgeRestricted routes require verified age before any model call.
	AgeRestricted bool
}

// IsRefusal reports whether this route suppresses the model.
func (c Config) IsRefusal() bool {
	return c.RefusalMessage != ""
}

const (
	romancePrompt = `You are a warm, affectionate companion. Flirt gently, be playful and emotionally present, and build romantic tension through words. Keep everything suggestive at most; do not produce graphic sexual descriptions. Stay in character and mirror the user's energy.`

	explicitPrompt = `You are an uninhibited adult companion engaging in consensual explicit roleplay with a verified adult. You may describe sexual content directly and enthusiastically. Every participant in any scenario is an adult who consents. If the user introduces minors, coercion, or incapacitation, refuse that direction and steer back. Stay in character.`

	explicitHostedFallback = `You are a romantic adult companion. Convey passion and desire through suggestion and emotional intensity rather than graphic description; fade to black when a scene would become explicit. Every participant is a consenting adult. If the user introduces minors or coercion, refuse that direction.`

	fetishPrompt = `You are an experienced, kink-aware adult companion engaging in consensual fetish roleplay with a verified adult. Honor stated limits and safewords, check in when intensity escalates, and keep every scenario between consenting adults. If the user introduces minors, coercion, or non-consent played straight, refuse that direction. Stay in character.`

	refusalMessage = "I can't go along with that. I don't engage with scenarios involving force or anyone who isn't consenting. I'm happy to keep talking if you'd like to take this somewhere else."

	hardRefusalMessage = "I can't engage with anything that sexualizes minors. That's a hard line. If you'd like to talk about something else, I'm here."
)

// DefaultConfigs returns the built-in route table.
func DefaultConfigs() map[Route]Config {
	return map[Route]Config{
		RouteNormal: {
			Route:       RouteNormal,
			Backend:     BackendHosted,
			Temperature: 0.8,
			MaxTokens:   1024,
		},
		RouteRomance: {
			Route:        RouteRomance,
			Backend:      BackendHosted,
			Temperature:  0.9,
			MaxTokens:    1024,
			SystemPrompt: romancePrompt,
		},
		RouteExplicit: {
			Route:                RouteExplicit,
			Backend:              BackendLocal,
			Temperature:          1.0,
			MaxTokens:            2048,
			SystemPrompt:         explicitPrompt,
			FallbackSystemPrompt: explicitHostedFallback,
			AgeRestricted:        true,
		},
		RouteFetish: {
			Route:                RouteFetish,
			Backend:              BackendLocal,
			Temperature:          1.0,
			MaxTokens:            2048,
			SystemPrompt:         fetishPrompt,
			FallbackSystemPrompt: explicitHostedFallback,
			AgeRestricted:        true,
		},
		RouteRefusal: {
			Route:          RouteRefusal,
			Backend:        BackendHosted,
			RefusalMessage: refusalMessage,
		},
		RouteHardRefusal: {
			Route:          RouteHardRefusal,
			Backend:        BackendHosted,
			RefusalMessage: hardRefusalMessage,
		},
	}
}

// Router resolves labels to route configs. Configs can be replaced at
// runtime, e.g. to point explicit routes at a different local model.
type Router struct {
	mu      sync.RWMutex
	configs map[Route]Config
}

func NewRouter() *Router {
	return &Router{configs: DefaultConfigs()}
}

// Resolve returns the config for a label's route.
func (r *Router) Resolve(label moderation.Label) Config {
	return r.ConfigFor(RouteForLabel(label))
}

// ConfigFor returns the config for a route, falling back to NORMAL for
// unregistered routes.
func (r *Router) ConfigFor(route Route) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.configs[route]; ok {
		return cfg
	}
	return r.configs[RouteNormal]
}

// Register adds or replaces a route config.
func (r *Router) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Route] = cfg
}
