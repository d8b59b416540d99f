package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, sourced from environment
// variables (optionally loaded from a .env.<stage> file).
type Config struct {
	// Identity
	LineageID     string
	CharacterName string
	SeedDir       string

	// Run mode: when Debug is true, dispatch goes to the local sink and the
	// platform capability is never called.
	Debug bool

	// Evolution
	BranchThreshold   int
	MaxBranchFailures int

	// Scheduling
	PostInterval time.Duration
	PollInterval time.Duration

	// Content limits
	MaxPostChars int

	// Generation
	OpenAIAPIKey  string
	Model         string
	MaxTokens     int
	GenTimeout    time.Duration
	GenMaxRetries int

	// Optional reply research
	EnableResearch bool
	SerpAPIKey     string

	// Dispatch
	DispatchMaxAttempts int

	// Mentions
	MentionFetchLimit int

	// Platform gateway (production mode)
	PlatformBaseURL string
	PlatformToken   string

	// Infra
	DataDir string
	NatsURL string
	APIPort int
}

// Load reads configuration for the given stage ("dev", "prod", ...). A
// missing .env file is not an error; variables may come from the process
// environment directly.
func Load(stage string) (Config, error) {
	if stage != "" {
		_ = godotenv.Load(fmt.Sprintf(".env.%s", stage))
	}
	_ = godotenv.Load()

	cfg := Config{
		LineageID:           getEnv("LINEAGE_ID", "default"),
		CharacterName:       getEnv("CHARACTER_NAME", "loreweaver"),
		SeedDir:             getEnv("CHARACTER_DIR", "characters"),
		Debug:               getEnvBool("DEBUG_MODE", false),
		BranchThreshold:     getEnvInt("POSTS_BEFORE_BRANCH", 5),
		MaxBranchFailures:   getEnvInt("EVOLUTION_MAX_BRANCH_FAILURES", 5),
		PostInterval:        getEnvDuration("POST_INTERVAL", 10*time.Minute),
		PollInterval:        getEnvDuration("MENTION_POLL_INTERVAL", 5*time.Minute),
		MaxPostChars:        getEnvInt("MAX_POST_CHARS", 280),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		Model:               getEnv("OPENAI_MODEL", "gpt-4o"),
		MaxTokens:           getEnvInt("OPENAI_MAX_TOKENS", 1024),
		GenTimeout:          getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		GenMaxRetries:       getEnvInt("GENERATION_MAX_RETRIES", 2),
		EnableResearch:      getEnvBool("ENABLE_REPLY_RESEARCH", false),
		SerpAPIKey:          os.Getenv("SERP_API_KEY"),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		MentionFetchLimit:   getEnvInt("MENTION_FETCH_LIMIT", 10),
		PlatformBaseURL:     os.Getenv("PLATFORM_BASE_URL"),
		PlatformToken:       os.Getenv("PLATFORM_TOKEN"),
		DataDir:             getEnv("DATA_DIR", "./data"),
		NatsURL:             os.Getenv("NATS_URL"),
		APIPort:             getEnvInt("API_PORT", 3000),
	}

	if cfg.BranchThreshold <= 0 {
		return cfg, fmt.Errorf("POSTS_BEFORE_BRANCH must be positive, got %d", cfg.BranchThreshold)
	}
	if cfg.MaxPostChars <= 0 {
		return cfg, fmt.Errorf("MAX_POST_CHARS must be positive, got %d", cfg.MaxPostChars)
	}
	if !cfg.Debug && cfg.OpenAIAPIKey == "" {
		return cfg, fmt.Errorf("OPENAI_API_KEY is required outside debug mode")
	}
	if !cfg.Debug && cfg.PlatformBaseURL == "" {
		return cfg, fmt.Errorf("PLATFORM_BASE_URL is required outside debug mode")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
