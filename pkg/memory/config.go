package memory

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
)

// Config carries everything needed to assemble a Service.
type Config struct {
	// StorageProvider selects the metadata store: sqlite, postgres,
	// or mysql.
	StorageProvider string

	// SQLitePath is the database file path for the sqlite provider.
	SQLitePath string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// LLMProvider selects the text-generation backend: openai,
	// ollama, or anthropic.
	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	// EmbedderProvider selects the embedding backend; empty disables
	// embeddings and the repository runs store-only.
	EmbedderProvider    string
	EmbedderAPIKey      string
	EmbedderModel       string
	EmbeddingDimensions int

	// VectorIndexProvider selects the vector index: flat or chromem.
	VectorIndexProvider string
	VectorIndexPath     string

	// RequireFinalResponse controls the retention policy's first rule.
	RequireFinalResponse bool

	// LLMTimeout bounds each external model call.
	LLMTimeout time.Duration
}

// DefaultConfig returns a config with sane local defaults: SQLite
// storage, a flat on-disk vector index, and OpenAI for both text
// generation and embeddings.
func DefaultConfig() *Config {
	return &Config{
		StorageProvider:      "sqlite",
		SQLitePath:           "data/mnemo.db",
		LLMProvider:          "openai",
		EmbedderProvider:     "openai",
		EmbeddingDimensions:  1536,
		VectorIndexProvider:  "flat",
		VectorIndexPath:      "data/mnemo.index",
		RequireFinalResponse: true,
		LLMTimeout:           DefaultLLMTimeout,
	}
}

// LoadConfigFromEnv builds a config from environment variables,
// loading a .env file first when one exists.
func LoadConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.StorageProvider = getEnv("MNEMO_STORAGE_PROVIDER", cfg.StorageProvider)
	cfg.SQLitePath = getEnv("MNEMO_SQLITE_PATH", cfg.SQLitePath)
	cfg.DBHost = getEnv("MNEMO_DB_HOST", "localhost")
	cfg.DBPort = getEnvInt("MNEMO_DB_PORT", 0)
	cfg.DBUser = getEnv("MNEMO_DB_USER", "")
	cfg.DBPassword = getEnv("MNEMO_DB_PASSWORD", "")
	cfg.DBName = getEnv("MNEMO_DB_NAME", "mnemo")

	cfg.LLMProvider = getEnv("MNEMO_LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMAPIKey = getEnv("MNEMO_LLM_API_KEY", os.Getenv("OPENAI_API_KEY"))
	cfg.LLMModel = getEnv("MNEMO_LLM_MODEL", "")
	cfg.LLMBaseURL = getEnv("MNEMO_LLM_BASE_URL", "")

	cfg.EmbedderProvider = getEnv("MNEMO_EMBEDDER_PROVIDER", cfg.EmbedderProvider)
	cfg.EmbedderAPIKey = getEnv("MNEMO_EMBEDDER_API_KEY", cfg.LLMAPIKey)
	cfg.EmbedderModel = getEnv("MNEMO_EMBEDDER_MODEL", "")
	cfg.EmbeddingDimensions = getEnvInt("MNEMO_EMBEDDING_DIMENSIONS", cfg.EmbeddingDimensions)

	cfg.VectorIndexProvider = getEnv("MNEMO_VECTOR_INDEX", cfg.VectorIndexProvider)
	cfg.VectorIndexPath = getEnv("MNEMO_VECTOR_INDEX_PATH", cfg.VectorIndexPath)

	cfg.RequireFinalResponse = getEnvBool("MNEMO_REQUIRE_FINAL_RESPONSE", cfg.RequireFinalResponse)
	if seconds := getEnvInt("MNEMO_LLM_TIMEOUT_SECONDS", 0); seconds > 0 {
		cfg.LLMTimeout = time.Duration(seconds) * time.Second
	}
	return cfg
}

// Validate checks the config for inconsistencies before assembly.
func (c *Config) Validate() error {
	switch c.StorageProvider {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite storage requires a database path", core.ErrInvalidConfig)
		}
	case "postgres", "mysql":
		if c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("%w: %s storage requires host and database name", core.ErrInvalidConfig, c.StorageProvider)
		}
	default:
		return fmt.Errorf("%w: unknown storage provider %q", core.ErrInvalidConfig, c.StorageProvider)
	}

	switch c.LLMProvider {
	case "openai", "anthropic":
		if c.LLMAPIKey == "" {
			return fmt.Errorf("%w: %s requires an API key", core.ErrInvalidConfig, c.LLMProvider)
		}
	case "ollama":
	default:
		return fmt.Errorf("%w: unknown LLM provider %q", core.ErrInvalidConfig, c.LLMProvider)
	}

	switch c.EmbedderProvider {
	case "", "openai":
	default:
		return fmt.Errorf("%w: unknown embedder provider %q", core.ErrInvalidConfig, c.EmbedderProvider)
	}

	switch c.VectorIndexProvider {
	case "flat", "chromem":
	case "":
	default:
		return fmt.Errorf("%w: unknown vector index provider %q", core.ErrInvalidConfig, c.VectorIndexProvider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
