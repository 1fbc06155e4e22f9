// Package server assembles the chat pipeline and serves it over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/reveriehq/reverie/ai/analyzers"
	"github.com/reveriehq/reverie/ai/buffer"
	"github.com/reveriehq/reverie/ai/core/embedding"
	"github.com/reveriehq/reverie/ai/core/llm"
	"github.com/reveriehq/reverie/ai/memory"
	"github.com/reveriehq/reverie/ai/metrics"
	"github.com/reveriehq/reverie/ai/moderation"
	"github.com/reveriehq/reverie/ai/orchestrator"
	"github.com/reveriehq/reverie/ai/persona"
	"github.com/reveriehq/reverie/ai/routing"
	"github.com/reveriehq/reverie/audit"
	"github.com/reveriehq/reverie/internal/profile"
	apiv1 "github.com/reveriehq/reverie/server/router/api/v1"
	"github.com/reveriehq/reverie/store"
)

const (
	shutdownTimeout = 10 * time.Second

	// consolidationInterval is how often the memory consolidator runs.
	consolidationInterval = 6 * time.Hour
)

// Server owns the HTTP surface and every pipeline component behind it.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	apiService   *apiv1.APIV1Service
	orchestrator *orchestrator.Orchestrator
	sessions     *routing.SessionManager
	personas     *persona.Manager
	classifier   *moderation.Classifier
	buffer       buffer.Buffer
	auditLog     *audit.Logger
	consolidator *memory.Consolidator

	done chan struct{}
}

func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: p.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))

	s := &Server{
		Profile:    p,
		Store:      st,
		echoServer: e,
		done:       make(chan struct{}),
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	models, utilityLLM, err := buildModels(p)
	if err != nil {
		return nil, err
	}

	s.classifier = moderation.NewClassifier(moderation.Config{JudgeLLM: utilityLLM})
	router := routing.NewRouter()
	s.sessions = routing.NewSessionManager(routing.DefaultLockCount, routing.DefaultIdleTimeout)

	s.personas = persona.NewManager(st).WithDefault(p.SystemPersona)
	if err := s.personas.SeedGlobals(ctx); err != nil {
		return nil, errors.Wrap(err, "seed global personalities")
	}

	s.buffer = buildBuffer(p)

	auditLog, err := audit.Open(filepath.Join(p.Data, "audit.jsonl"))
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}
	s.auditLog = auditLog

	cfg := orchestrator.Config{
		Store:      st,
		Buffer:     s.buffer,
		Classifier: s.classifier,
		Router:     router,
		Sessions:   s.sessions,
		Personas:   s.personas,
		Models:     models,
		Metrics:    exporter,
		Audit:      auditLog,

		Preferences: analyzers.NewPreferenceAnalyzer(utilityLLM, analyzers.PreferenceConfig{Strategy: analyzerStrategy("hybrid", utilityLLM)}),
		Personality: analyzers.NewPersonalityDetector(utilityLLM, analyzers.PersonalityConfig{Strategy: analyzerStrategy(p.PersonalityDetectionMethod, utilityLLM)}),
		Emotions:    analyzers.NewEmotionDetector(utilityLLM, analyzers.EmotionConfig{Strategy: analyzerStrategy(p.EmotionDetectionMethod, utilityLLM)}),
		Goals:       analyzers.NewGoalDetector(utilityLLM, analyzers.GoalConfig{Strategy: analyzerStrategy(p.GoalDetectionMethod, utilityLLM)}),
	}

	embedder, err := buildEmbedder(p)
	if err != nil {
		return nil, err
	}
	if embedder != nil {
		detector := memory.NewDetector(utilityLLM, memory.DetectorConfig{
			Strategy: analyzerStrategy(p.ContradictionDetectionMethod, utilityLLM),
		})
		writer := memory.NewWriter(st, detector)
		cfg.Retriever = memory.NewRetriever(st, embedder, memory.RetrieverConfig{
			TopK:          p.LongTermMemoryTopK,
			MinSimilarity: p.MemorySimilarityThreshold,
		})
		cfg.Extractor = memory.NewExtractor(st, embedder, writer, utilityLLM, memory.ExtractorConfig{
			Strategy: analyzerStrategy(p.MemoryExtractionMethod, utilityLLM),
			MinTurns: p.MemoryExtractionMinTurns,
		}).WithCategorizer(analyzers.NewCategorizer(utilityLLM, analyzers.CategorizerConfig{
			Strategy: analyzerStrategy(p.MemoryCategorizationMethod, utilityLLM),
		}))
		s.consolidator = memory.NewConsolidator(st, memory.ConsolidatorConfig{})
	} else {
		slog.Warn("embedding backend not configured, long-term memory disabled")
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "build orchestrator")
	}
	s.orchestrator = orch

	s.apiService = apiv1.NewAPIV1Service(p, st, apiv1.Dependencies{
		Streamer: orch,
		Sessions: s.sessions,
		Buffer:   s.buffer,
		Personas: s.personas,
		Metrics:  exporter,
	})
	s.apiService.Register(e)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	if s.consolidator != nil {
		go s.consolidationLoop()
	}

	return s, nil
}

// Start begins serving. It returns once the listener is up; serve errors
// are logged from the background goroutine.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener, drains background work, and releases every
// component.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	close(s.done)
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}

	s.orchestrator.Close()
	s.apiService.Close()
	s.sessions.Close()
	s.personas.Close()
	s.classifier.Close()
	s.buffer.Close()
	if err := s.auditLog.Close(); err != nil {
		slog.Error("failed to close audit log", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}

func (s *Server) consolidationLoop() {
	ticker := time.NewTicker(consolidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			report, err := s.consolidator.Run(ctx)
			cancel()
			if err != nil {
				slog.Error("memory consolidation failed", "error", err)
				continue
			}
			slog.Info("memory consolidation finished",
				"users", report.UsersProcessed,
				"exact_merged", report.ExactMerged,
				"semantic_merged", report.SemanticMerged,
				"decayed", report.Decayed,
				"duration", report.Duration,
			)
		}
	}
}

// buildModels constructs the per-route LLM clients from the profile. The
// hosted client is required; the local one is optional and explicit routes
// fall back to the hosted client without it.
func buildModels(p *profile.Profile) (*orchestrator.StaticModels, llm.Service, error) {
	if !p.HasHostedLLM() {
		return nil, nil, errors.New("hosted llm api key is required")
	}

	hosted, err := llm.NewService(&llm.Config{
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   p.LLMMaxTokens,
		Temperature: float32(p.LLMTemperature),
		Timeout:     p.LLMTimeout,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "build hosted llm client")
	}

	models := &orchestrator.StaticModels{
		Hosted:   hosted,
		PerRoute: make(map[routing.Route]llm.Service),
	}

	// Routes with their own sampling parameters get dedicated hosted
	// clients so temperature and token limits are baked in.
	for route, cfg := range routing.DefaultConfigs() {
		if cfg.IsRefusal() || (cfg.Temperature == float32(p.LLMTemperature) && cfg.MaxTokens == p.LLMMaxTokens) {
			continue
		}
		svc, err := llm.NewService(&llm.Config{
			Model:       p.LLMModel,
			APIKey:      p.LLMAPIKey,
			BaseURL:     p.LLMBaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     p.LLMTimeout,
		})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "build hosted llm client for route %s", route)
		}
		models.PerRoute[route] = svc
	}

	if p.HasLocalLLM() {
		local, err := llm.NewService(&llm.Config{
			Model:       p.LocalLLMModel,
			BaseURL:     p.LocalLLMBaseURL,
			MaxTokens:   p.LocalLLMMaxTokens,
			Temperature: float32(p.LocalLLMTemperature),
			Timeout:     p.LLMTimeout,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "build local llm client")
		}
		models.Local = local
	}

	// Titles, summaries, and analyzer prompts run on a cheap low-temperature
	// client against the hosted backend.
	small, err := llm.NewService(&llm.Config{
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     p.LLMTimeout,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "build utility llm client")
	}
	models.Small = small

	go hosted.Warmup(context.Background())

	return models, small, nil
}

func buildEmbedder(p *profile.Profile) (memory.Embedder, error) {
	if p.EmbeddingAPIKey == "" {
		return nil, nil
	}
	svc, err := embedding.NewService(&embedding.Config{
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDimension,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build embedding client")
	}
	return svc, nil
}

// buildBuffer returns the shared Redis buffer when configured, otherwise a
// process-local one. The Redis buffer mirrors into a local fallback.
func buildBuffer(p *profile.Profile) buffer.Buffer {
	local := buffer.NewLocal(p.ShortTermMemorySize, 24*time.Hour)
	if !p.RedisEnabled {
		return local
	}
	opts, err := redis.ParseURL(p.RedisURL)
	if err != nil {
		slog.Warn("invalid redis url, using local buffer", "error", err)
		return local
	}
	client := redis.NewClient(opts)
	return buffer.NewRedis(client, p.ShortTermMemorySize, 24*time.Hour, local)
}

// analyzerStrategy degrades llm-dependent strategies to pattern matching
// when no LLM client exists to serve them.
func analyzerStrategy(configured string, svc llm.Service) string {
	if svc == nil && (configured == "llm" || configured == "hybrid") {
		return "pattern"
	}
	return configured
}
