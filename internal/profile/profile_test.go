package profile

import (
	"os"
	"strings"
	"testing"
)

func TestProfileDefaults(t *testing.T) {
	clearReverieEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if profile.HasHostedLLM() {
		t.Errorf("HasHostedLLM: expected false without an API key")
	}
	if profile.EmbeddingModel != "BAAI/bge-m3" {
		t.Errorf("EmbeddingModel: expected BAAI/bge-m3, got %q", profile.EmbeddingModel)
	}
	if profile.EmbeddingDimension != 1024 {
		t.Errorf("EmbeddingDimension: expected 1024, got %d", profile.EmbeddingDimension)
	}
	if profile.ShortTermMemorySize != 10 {
		t.Errorf("ShortTermMemorySize: expected 10, got %d", profile.ShortTermMemorySize)
	}
	if profile.LongTermMemoryTopK != 5 {
		t.Errorf("LongTermMemoryTopK: expected 5, got %d", profile.LongTermMemoryTopK)
	}
	if profile.MemorySimilarityThreshold != 0.2 {
		t.Errorf("MemorySimilarityThreshold: expected 0.2, got %v", profile.MemorySimilarityThreshold)
	}
	if profile.MemoryExtractionMinTurns != 3 {
		t.Errorf("MemoryExtractionMinTurns: expected 3, got %d", profile.MemoryExtractionMinTurns)
	}
	if profile.JWTAlgorithm != "HS256" {
		t.Errorf("JWTAlgorithm: expected HS256, got %q", profile.JWTAlgorithm)
	}
	if profile.JWTSecretKey != DefaultJWTSecret {
		t.Errorf("JWTSecretKey: expected the development default")
	}
	if !profile.AuthEnabled {
		t.Errorf("AuthEnabled: expected true by default")
	}
	if profile.RateLimitRequestsPerMinute != 60 {
		t.Errorf("RateLimitRequestsPerMinute: expected 60, got %d", profile.RateLimitRequestsPerMinute)
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "hosted LLM API key",
			envVar:   "REVERIE_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "local LLM base URL",
			envVar:   "REVERIE_LOCAL_LLM_BASE_URL",
			envValue: "http://localhost:11434/v1",
			field:    func(p *Profile) string { return p.LocalLLMBaseURL },
			expected: "http://localhost:11434/v1",
		},
		{
			name:     "emotion detection method",
			envVar:   "REVERIE_EMOTION_DETECTION_METHOD",
			envValue: "pattern",
			field:    func(p *Profile) string { return p.EmotionDetectionMethod },
			expected: "pattern",
		},
		{
			name:     "system persona",
			envVar:   "REVERIE_SYSTEM_PERSONA",
			envValue: "You are a warm companion.",
			field:    func(p *Profile) string { return p.SystemPersona },
			expected: "You are a warm companion.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearReverieEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestProfileCORSOrigins(t *testing.T) {
	clearReverieEnvVars()
	os.Setenv("REVERIE_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	defer os.Unsetenv("REVERIE_CORS_ORIGINS")

	profile := &Profile{}
	profile.FromEnv()

	if len(profile.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins: expected 2 origins, got %d", len(profile.CORSOrigins))
	}
	if profile.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("CORSOrigins[0]: got %q", profile.CORSOrigins[0])
	}
	if profile.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("CORSOrigins[1]: got %q", profile.CORSOrigins[1])
	}
}

func TestValidateRejectsProdMisconfiguration(t *testing.T) {
	base := func() *Profile {
		clearReverieEnvVars()
		p := &Profile{}
		p.FromEnv()
		p.Mode = "prod"
		p.Data = t.TempDir()
		p.Driver = "sqlite"
		p.JWTSecretKey = strings.Repeat("s", 32)
		p.CORSOrigins = []string{"https://app.example.com"}
		return p
	}

	tests := []struct {
		name  string
		setup func(*Profile)
		want  string
	}{
		{
			name:  "default jwt secret",
			setup: func(p *Profile) { p.JWTSecretKey = DefaultJWTSecret },
			want:  "default jwt secret",
		},
		{
			name:  "short jwt secret",
			setup: func(p *Profile) { p.JWTSecretKey = "short" },
			want:  "at least 32 bytes",
		},
		{
			name:  "auth disabled",
			setup: func(p *Profile) { p.AuthEnabled = false },
			want:  "authentication cannot be disabled",
		},
		{
			name:  "wildcard cors",
			setup: func(p *Profile) { p.CORSOrigins = []string{"*"} },
			want:  "wildcard cors",
		},
		{
			name:  "invalid analyzer method",
			setup: func(p *Profile) { p.GoalDetectionMethod = "magic" },
			want:  "invalid goal_detection method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.setup(p)
			err := p.Validate()
			if err == nil {
				t.Fatalf("Validate: expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate: expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestValidateAcceptsProperProdConfig(t *testing.T) {
	clearReverieEnvVars()
	p := &Profile{}
	p.FromEnv()
	p.Mode = "prod"
	p.Data = t.TempDir()
	p.Driver = "sqlite"
	p.JWTSecretKey = strings.Repeat("s", 32)
	p.CORSOrigins = []string{"https://app.example.com"}

	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}
	if p.DSN == "" {
		t.Errorf("Validate: expected sqlite DSN to be derived from data dir")
	}
	if !strings.HasSuffix(p.DSN, "reverie_prod.db") {
		t.Errorf("Validate: unexpected DSN %q", p.DSN)
	}
}

// clearReverieEnvVars clears configuration environment variables so tests
// observe defaults regardless of the host environment.
func clearReverieEnvVars() {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "REVERIE_") {
			if i := strings.Index(env, "="); i > 0 {
				os.Unsetenv(env[:i])
			}
		}
	}
}
