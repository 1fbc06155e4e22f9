package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultJWTSecret is the development fallback. Validate rejects it in prod.
const DefaultJWTSecret = "reverie-dev-secret-do-not-use-in-prod"

// Profile is configuration to start main server.
type Profile struct {
	// Hosted LLM configuration (OpenAI-compatible protocol).
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     int // seconds

	// Local LLM configuration, used for content routed away from the
	// hosted backend. Same OpenAI-compatible protocol.
	LocalLLMBaseURL     string
	LocalLLMModel       string
	LocalLLMTemperature float64
	LocalLLMMaxTokens   int

	// Embedding configuration.
	EmbeddingAPIKey    string
	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingDimension int

	// Memory configuration.
	ShortTermMemorySize       int
	LongTermMemoryTopK        int
	MemorySimilarityThreshold float64
	MemoryExtractionMinTurns  int

	// Analyzer method selection: llm | pattern | hybrid.
	MemoryExtractionMethod       string
	EmotionDetectionMethod       string
	GoalDetectionMethod          string
	PersonalityDetectionMethod   string
	MemoryCategorizationMethod   string
	ContradictionDetectionMethod string

	// Redis, used for distributed conversation buffers and personality cache.
	RedisURL     string
	RedisEnabled bool

	// Auth configuration.
	AuthEnabled        bool
	JWTSecretKey       string
	JWTAlgorithm       string
	JWTExpirationHours int

	RateLimitRequestsPerMinute int

	// Presentation / ops.
	SystemPersona string
	CORSOrigins   []string
	LogLevel      string

	// Server configuration.
	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

var validMethods = map[string]bool{
	"llm":     true,
	"pattern": true,
	"hybrid":  true,
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// HasHostedLLM returns true if the hosted backend is configured.
func (p *Profile) HasHostedLLM() bool {
	return p.LLMAPIKey != ""
}

// HasLocalLLM returns true if a local backend is configured.
func (p *Profile) HasLocalLLM() bool {
	return p.LocalLLMBaseURL != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Hosted LLM configuration
	p.LLMAPIKey = getEnvOrDefault("REVERIE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("REVERIE_LLM_BASE_URL", "https://api.openai.com/v1")
	p.LLMModel = getEnvOrDefault("REVERIE_LLM_MODEL_NAME", "gpt-4o-mini")
	p.LLMTemperature = getEnvOrDefaultFloat("REVERIE_LLM_TEMPERATURE", 0.8)
	p.LLMMaxTokens = getEnvOrDefaultInt("REVERIE_LLM_MAX_TOKENS", 1024)
	p.LLMTimeout = getEnvOrDefaultInt("REVERIE_LLM_TIMEOUT_SECONDS", 120)

	// Local LLM configuration
	p.LocalLLMBaseURL = getEnvOrDefault("REVERIE_LOCAL_LLM_BASE_URL", "")
	p.LocalLLMModel = getEnvOrDefault("REVERIE_LOCAL_LLM_MODEL_NAME", "llama3.1")
	p.LocalLLMTemperature = getEnvOrDefaultFloat("REVERIE_LOCAL_LLM_TEMPERATURE", 0.9)
	p.LocalLLMMaxTokens = getEnvOrDefaultInt("REVERIE_LOCAL_LLM_MAX_TOKENS", 1024)

	// Embedding configuration
	p.EmbeddingAPIKey = getEnvOrDefault("REVERIE_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("REVERIE_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.EmbeddingModel = getEnvOrDefault("REVERIE_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingDimension = getEnvOrDefaultInt("REVERIE_EMBEDDING_DIMENSION", 1024)

	// Memory configuration
	p.ShortTermMemorySize = getEnvOrDefaultInt("REVERIE_SHORT_TERM_MEMORY_SIZE", 10)
	p.LongTermMemoryTopK = getEnvOrDefaultInt("REVERIE_LONG_TERM_MEMORY_TOP_K", 5)
	p.MemorySimilarityThreshold = getEnvOrDefaultFloat("REVERIE_MEMORY_SIMILARITY_THRESHOLD", 0.2)
	p.MemoryExtractionMinTurns = getEnvOrDefaultInt("REVERIE_MEMORY_EXTRACTION_MIN_TURNS", 3)

	// Analyzer methods
	p.MemoryExtractionMethod = getEnvOrDefault("REVERIE_MEMORY_EXTRACTION_METHOD", "hybrid")
	p.EmotionDetectionMethod = getEnvOrDefault("REVERIE_EMOTION_DETECTION_METHOD", "hybrid")
	p.GoalDetectionMethod = getEnvOrDefault("REVERIE_GOAL_DETECTION_METHOD", "hybrid")
	p.PersonalityDetectionMethod = getEnvOrDefault("REVERIE_PERSONALITY_DETECTION_METHOD", "pattern")
	p.MemoryCategorizationMethod = getEnvOrDefault("REVERIE_MEMORY_CATEGORIZATION_METHOD", "pattern")
	p.ContradictionDetectionMethod = getEnvOrDefault("REVERIE_CONTRADICTION_DETECTION_METHOD", "hybrid")

	// Redis
	p.RedisURL = getEnvOrDefault("REVERIE_REDIS_URL", "redis://localhost:6379/0")
	p.RedisEnabled = getEnvOrDefaultBool("REVERIE_REDIS_ENABLED", false)

	// Auth
	p.AuthEnabled = getEnvOrDefaultBool("REVERIE_AUTH_ENABLED", true)
	p.JWTSecretKey = getEnvOrDefault("REVERIE_JWT_SECRET_KEY", DefaultJWTSecret)
	p.JWTAlgorithm = getEnvOrDefault("REVERIE_JWT_ALGORITHM", "HS256")
	p.JWTExpirationHours = getEnvOrDefaultInt("REVERIE_JWT_EXPIRATION_HOURS", 24)

	p.RateLimitRequestsPerMinute = getEnvOrDefaultInt("REVERIE_RATE_LIMIT_REQUESTS_PER_MINUTE", 60)

	// Presentation / ops
	p.SystemPersona = getEnvOrDefault("REVERIE_SYSTEM_PERSONA", "")
	p.LogLevel = getEnvOrDefault("REVERIE_LOG_LEVEL", "info")

	origins := getEnvOrDefault("REVERIE_CORS_ORIGINS", "*")
	p.CORSOrigins = nil
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			p.CORSOrigins = append(p.CORSOrigins, origin)
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "reverie")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/reverie"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("reverie_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	for name, method := range map[string]string{
		"memory_extraction":       p.MemoryExtractionMethod,
		"emotion_detection":       p.EmotionDetectionMethod,
		"goal_detection":          p.GoalDetectionMethod,
		"personality_detection":   p.PersonalityDetectionMethod,
		"memory_categorization":   p.MemoryCategorizationMethod,
		"contradiction_detection": p.ContradictionDetectionMethod,
	} {
		if !validMethods[method] {
			return errors.Errorf("invalid %s method %q, expected llm, pattern, or hybrid", name, method)
		}
	}

	if p.EmbeddingDimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if p.JWTExpirationHours <= 0 {
		return errors.New("jwt expiration must be positive")
	}

	if p.Mode == "prod" {
		if !p.AuthEnabled {
			return errors.New("authentication cannot be disabled in prod mode")
		}
		if p.JWTSecretKey == DefaultJWTSecret {
			return errors.New("default jwt secret cannot be used in prod mode")
		}
		if len(p.JWTSecretKey) < 32 {
			return errors.New("jwt secret must be at least 32 bytes in prod mode")
		}
		for _, origin := range p.CORSOrigins {
			if origin == "*" {
				return errors.New("wildcard cors origin cannot be used in prod mode")
			}
		}
	}

	return nil
}
