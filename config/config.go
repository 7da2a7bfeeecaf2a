package config

import (
	"os"
	"strconv"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// RoleModel configures one generation role.
type RoleModel struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
	Timeout   time.Duration
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings  EmbeddingsConfig
	LLMProvider string
	LLMTimeout  time.Duration
	Writer      RoleModel
	Skeptic     RoleModel
	Judge       RoleModel

	RetrievalThreshold float64
	RetrievalLimit     int
	TokenBudget        int
	MaxRevisionCycles  int

	DataDir    string
	ListenAddr string
}

func Load() Config {
	return Config{
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/citeline?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", ""),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 1536),
			Timeout:   time.Duration(getEnvInt("EMBEDDINGS_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		LLMProvider: getEnv("LLM_PROVIDER", ProviderOpenAI),
		LLMTimeout:  time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,
		Writer: RoleModel{
			Model:       getEnv("WRITER_MODEL", "gpt-4o"),
			Temperature: getEnvFloat32("WRITER_TEMPERATURE", 0.4),
			MaxTokens:   getEnvInt("WRITER_MAX_TOKENS", 2048),
		},
		Skeptic: RoleModel{
			Model:       getEnv("SKEPTIC_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat32("SKEPTIC_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("SKEPTIC_MAX_TOKENS", 1024),
		},
		Judge: RoleModel{
			Model:       getEnv("JUDGE_MODEL", "gpt-4o"),
			Temperature: getEnvFloat32("JUDGE_TEMPERATURE", 0.0),
			MaxTokens:   getEnvInt("JUDGE_MAX_TOKENS", 4096),
		},

		RetrievalThreshold: getEnvFloat("RETRIEVAL_THRESHOLD", 0.3),
		RetrievalLimit:     getEnvInt("RETRIEVAL_LIMIT", 12),
		TokenBudget:        getEnvInt("CONTEXT_TOKEN_BUDGET", 50000),
		MaxRevisionCycles:  getEnvInt("MAX_REVISION_CYCLES", 2),

		DataDir:    getEnv("DATA_DIR", "./data"),
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	return float32(getEnvFloat(key, float64(fallback)))
}
