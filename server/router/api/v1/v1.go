// Package v1 is the REST surface: the streaming chat endpoint plus the
// management endpoints for personalities, conversations, preferences,
// emotions, goals, relationships, and auth.
package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/metrics"
	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/server/auth"
	"github.com/reveriehq/reverie/server/middleware"
	"github.com/reveriehq/reverie/store"
)

type APIV1Service struct {
	ChatService         *ChatService
	PersonalityService  *PersonalityService
	ConversationService *ConversationService
	PreferenceService   *PreferenceService
	EmotionService      *EmotionService
	GoalService         *GoalService
	RelationshipService *RelationshipService
	AuthService         *AuthService

	Profile *profile.Profile
	Store   *store.Store

	signer        *auth.Signer
	authenticator *auth.Authenticator
	rateLimiter   *middleware.RateLimiter
}

// Dependencies are the pipeline components the API fronts.
type Dependencies struct {
	Streamer Streamer
	Sessions *routing.SessionManager
	Buffer   buffer.Buffer
	Personas *persona.Manager
	Metrics  *metrics.Exporter
}

func NewAPIV1Service(p *profile.Profile, st *store.Store, deps Dependencies) *APIV1Service {
	signer := auth.NewSigner(p.JWTSecretKey, p.JWTAlgorithm, time.Duration(p.JWTExpirationHours)*time.Hour)
	s := &APIV1Service{
		Profile:       p,
		Store:         st,
		signer:        signer,
		authenticator: auth.NewAuthenticator(st, signer),
		rateLimiter:   middleware.NewRateLimiter(p.RateLimitRequestsPerMinute, rateBurst(p)),
	}

	s.ChatService = &ChatService{Streamer: deps.Streamer, Metrics: deps.Metrics}
	s.PersonalityService = &PersonalityService{Store: st, Personas: deps.Personas}
	s.ConversationService = &ConversationService{Store: st, Sessions: deps.Sessions, Buffer: deps.Buffer}
	s.PreferenceService = &PreferenceService{Store: st}
	s.EmotionService = &EmotionService{Store: st}
	s.GoalService = &GoalService{Store: st}
	s.RelationshipService = &RelationshipService{Store: st, Personas: deps.Personas}
	s.AuthService = &AuthService{Store: st, Profile: p, Signer: signer, Sessions: deps.Sessions}

	return s
}

// Close releases background resources owned by the API layer.
func (s *APIV1Service) Close() {
	s.rateLimiter.Close()
}

// Register mounts every route on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.Use(s.authMiddleware, s.rateLimitMiddleware)

	api.POST("/chat", s.ChatService.Stream)

	api.POST("/verify-age", s.AuthService.VerifyAge)
	api.GET("/auth/me", s.AuthService.Me)
	api.POST("/auth/keys", s.AuthService.CreateAPIKey)
	api.GET("/auth/keys", s.AuthService.ListAPIKeys)
	api.DELETE("/auth/keys/:id", s.AuthService.RevokeAPIKey)

	api.POST("/personalities", s.PersonalityService.Create)
	api.GET("/personalities", s.PersonalityService.List)
	api.GET("/personalities/:id", s.PersonalityService.Get)
	api.PATCH("/personalities/:id", s.PersonalityService.Update)
	api.DELETE("/personalities/:id", s.PersonalityService.Delete)

	api.GET("/conversations", s.ConversationService.List)
	api.GET("/conversations/:id/messages", s.ConversationService.Messages)
	api.PATCH("/conversations/:id", s.ConversationService.Update)
	api.DELETE("/conversations/:id", s.ConversationService.Delete)

	api.GET("/preferences", s.PreferenceService.Get)
	api.PUT("/preferences", s.PreferenceService.Update)
	api.DELETE("/preferences", s.PreferenceService.Clear)

	api.GET("/emotions/history", s.EmotionService.History)
	api.GET("/emotions/statistics", s.EmotionService.Statistics)
	api.GET("/emotions/trends", s.EmotionService.Trends)
	api.DELETE("/emotions", s.EmotionService.Clear)

	api.GET("/goals/analytics", s.GoalService.Analytics)
	api.POST("/goals", s.GoalService.Create)
	api.GET("/goals", s.GoalService.List)
	api.GET("/goals/:id", s.GoalService.Get)
	api.GET("/goals/:id/progress", s.GoalService.Progress)
	api.PATCH("/goals/:id", s.GoalService.Update)
	api.DELETE("/goals/:id", s.GoalService.Delete)

	api.GET("/relationships/:personality", s.RelationshipService.Get)

	// Token minting is unauthenticated; callers bootstrap with it.
	e.POST("/api/v1/auth/token", s.AuthService.MintToken)
	e.GET("/healthz", s.Health)
}

// Health is the liveness endpoint. It does not touch the database.
func (s *APIV1Service) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

const userIDContextKey = "reverie.user"

// authMiddleware resolves the caller's external user id. With auth disabled
// (dev only) a plain user header is trusted instead.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Profile.AuthEnabled {
			userID := strings.TrimSpace(c.Request().Header.Get(auth.DevUserHeader))
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing user header")
			}
			c.Set(userIDContextKey, userID)
			return next(c)
		}

		userID, err := s.authenticator.Authenticate(c.Request().Context(), c.Request().Header.Get("Authorization"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		c.Set(userIDContextKey, userID)
		return next(c)
	}
}

func (s *APIV1Service) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.rateLimiter.Allow(currentUserID(c)) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func currentUserID(c echo.Context) string {
	if id, ok := c.Get(userIDContextKey).(string); ok {
		return id
	}
	return ""
}

func rateBurst(p *profile.Profile) int {
	// Burst is a quarter of the per-minute budget, floor 5.
	burst := p.RateLimitRequestsPerMinute / 4
	if burst < 5 {
		burst = 5
	}
	return burst
}
