package memory

import (
	"context"
	"fmt"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/embedder"
	embedderopenai "github.com/mnemo-labs/mnemo-go/pkg/embedder/openai"
	"github.com/mnemo-labs/mnemo-go/pkg/intelligence"
	"github.com/mnemo-labs/mnemo-go/pkg/llm"
	"github.com/mnemo-labs/mnemo-go/pkg/llm/anthropic"
	"github.com/mnemo-labs/mnemo-go/pkg/llm/ollama"
	llmopenai "github.com/mnemo-labs/mnemo-go/pkg/llm/openai"
	"github.com/mnemo-labs/mnemo-go/pkg/retrieval"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
	"github.com/mnemo-labs/mnemo-go/pkg/storage/mysql"
	"github.com/mnemo-labs/mnemo-go/pkg/storage/postgres"
	"github.com/mnemo-labs/mnemo-go/pkg/storage/sqlite"
	"github.com/mnemo-labs/mnemo-go/pkg/vector"
	"github.com/mnemo-labs/mnemo-go/pkg/vector/chromem"
)

// fullStore is what every bundled storage backend provides.
type fullStore interface {
	storage.MetadataStore
	storage.KeywordSearcher
	storage.AccessLogStore
	storage.FeedbackStore
}

// BuildService assembles a complete Service from the config: storage
// backend, vector index, LLM and embedding providers, capture
// pipeline, hybrid and cascaded retrievers, and importance scorer.
func BuildService(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.NewMemoryError("BuildService", err)
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, core.NewMemoryError("BuildService", err)
	}

	provider, err := initLLM(cfg)
	if err != nil {
		return nil, core.NewMemoryError("BuildService", err)
	}

	embedderProvider, err := initEmbedder(cfg)
	if err != nil {
		return nil, core.NewMemoryError("BuildService", err)
	}

	index, err := initVectorIndex(cfg, embedderProvider)
	if err != nil {
		return nil, core.NewMemoryError("BuildService", err)
	}

	var repoOpts []storage.RepositoryOption
	if index != nil {
		repoOpts = append(repoOpts, storage.WithVectorIndex(index))
	}
	if embedderProvider != nil {
		repoOpts = append(repoOpts, storage.WithEmbedder(embedderProvider))
	}
	repository, err := storage.NewRepository(store, repoOpts...)
	if err != nil {
		return nil, err
	}

	// Rebuild the index from stored embeddings when it starts empty.
	if err := repository.PopulateIndex(context.Background()); err != nil {
		return nil, err
	}

	pipeline := intelligence.NewPipeline(
		intelligence.NewRetentionPolicy(provider,
			intelligence.WithRequireFinalResponse(cfg.RequireFinalResponse)),
		intelligence.NewCurator(provider),
		intelligence.NewDeduplicator(),
		intelligence.WithLLMTimeout(cfg.LLMTimeout),
	)

	scorer := intelligence.NewImportanceScorer(store, store, store, nil,
		intelligence.DefaultImportanceWeights())

	opts := []ServiceOption{
		WithHybridRetriever(retrieval.NewHybridRetriever(repository, store)),
		WithCascadedRetriever(retrieval.NewCascadedRetriever(provider, repository,
			retrieval.WithLLMTimeout(cfg.LLMTimeout))),
		WithImportanceScorer(scorer),
	}
	return NewService(repository, pipeline, opts...), nil
}

func initStorage(cfg *Config) (fullStore, error) {
	switch cfg.StorageProvider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{DBPath: cfg.SQLitePath})
	case "postgres":
		port := cfg.DBPort
		if port == 0 {
			port = 5432
		}
		return postgres.NewClient(&postgres.Config{
			Host:     cfg.DBHost,
			Port:     port,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
		})
	case "mysql":
		port := cfg.DBPort
		if port == 0 {
			port = 3306
		}
		return mysql.NewClient(&mysql.Config{
			Host:     cfg.DBHost,
			Port:     port,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", core.ErrInvalidConfig, cfg.StorageProvider)
	}
}

func initLLM(cfg *Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llmopenai.NewClient(&llmopenai.Config{
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		})
	case "ollama":
		return ollama.NewClient(&ollama.Config{
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		})
	case "anthropic":
		return anthropic.NewClient(&anthropic.Config{
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.LLMBaseURL,
		})
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", core.ErrInvalidConfig, cfg.LLMProvider)
	}
}

func initEmbedder(cfg *Config) (embedder.Provider, error) {
	switch cfg.EmbedderProvider {
	case "":
		return nil, nil
	case "openai":
		return embedderopenai.NewClient(&embedderopenai.Config{
			APIKey:     cfg.EmbedderAPIKey,
			Model:      cfg.EmbedderModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", core.ErrInvalidConfig, cfg.EmbedderProvider)
	}
}

func initVectorIndex(cfg *Config, provider embedder.Provider) (vector.Index, error) {
	if provider == nil || cfg.VectorIndexProvider == "" {
		return nil, nil
	}
	switch cfg.VectorIndexProvider {
	case "flat":
		dimension := cfg.EmbeddingDimensions
		if dims := provider.Dimensions(); dims > 0 {
			dimension = dims
		}
		return vector.NewFlatIndex(dimension, cfg.VectorIndexPath)
	case "chromem":
		return chromem.New("memories")
	default:
		return nil, fmt.Errorf("%w: unknown vector index provider %q", core.ErrInvalidConfig, cfg.VectorIndexProvider)
	}
}
