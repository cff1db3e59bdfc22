package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/database"
	"github.com/fabfab/hearings-ai/embeddings"
	"github.com/fabfab/hearings-ai/index"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/knowledge"
	"github.com/fabfab/hearings-ai/llm"
	"github.com/fabfab/hearings-ai/logger"
	"github.com/fabfab/hearings-ai/metadata"
	"github.com/fabfab/hearings-ai/search"
	"github.com/fabfab/hearings-ai/understanding"
)

// app holds the connections and services shared by the commands.
type app struct {
	cfg    config.Config
	logger *logger.Logger

	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext
	redis  *redis.Client

	policy    *access.Policy
	documents metadata.Store
	index     *index.Store
	graph     *knowledge.Graph
	embedder  embeddings.Embedder
}

// newApp opens PostgreSQL, ensures the schema and, when configured, connects
// Neo4j and Redis. Neo4j and Redis failures degrade the service instead of
// stopping it.
func newApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	norm, err := access.ParseNormalizer(cfg.Access.PartyMatch)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, policy: access.NewPolicy(norm)}

	a.pool, err = database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	if err := database.EnsureSchema(ctx, a.pool, cfg.Embeddings.Dimension); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.index = index.NewStore(a.pool, a.policy, log, cfg.Embeddings.Dimension)

	var documents metadata.Store = metadata.NewPostgresStore(a.pool)
	if cfg.Redis.Addr != "" {
		a.redis, err = database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, metadata cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			documents = metadata.NewCachedStore(documents, metadata.NewRedisCache(a.redis), cfg.Redis.CacheTTL, log)
		}
	}
	a.documents = documents

	if cfg.Neo4jURI != "" {
		a.driver, err = database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			log.Warn("neo4j unavailable, related documents disabled", "uri", cfg.Neo4jURI, "error", err)
		} else {
			a.graph = knowledge.NewGraph(a.driver, log)
		}
	}
	return a, nil
}

func (a *app) loadEmbedder() (embeddings.Embedder, error) {
	if a.embedder == nil {
		e, err := embeddings.NewEmbedder(a.cfg)
		if err != nil {
			return nil, fmt.Errorf("embedder setup: %w", err)
		}
		a.embedder = e
	}
	return a.embedder, nil
}

func (a *app) close(ctx context.Context) {
	if a.driver != nil {
		if err := a.driver.Close(ctx); err != nil {
			a.logger.Warn("close neo4j driver", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) ingestionService() (*ingestion.Service, error) {
	embedder, err := a.loadEmbedder()
	if err != nil {
		return nil, err
	}
	tok, err := ingestion.NewTokenizer(a.cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, err
	}
	chunker := ingestion.NewChunker(tok, a.cfg.Chunking.MaxTokens, a.cfg.Chunking.OverlapTokens,
		ingestion.MustCitationExtractor(ingestion.DefaultCitationPatterns))

	deps := ingestion.Deps{
		Chunker:  chunker,
		Embedder: embedder,
		Index:    a.index,
		Metadata: a.documents,
		Logger:   a.logger,
	}
	if a.graph != nil {
		deps.Graph = a.graph
	}
	return ingestion.NewService(deps, ingestion.Options{
		EmbedBatchSize:      a.cfg.Ingestion.EmbedBatchSize,
		UploadBatchSize:     a.cfg.Ingestion.UploadBatchSize,
		Concurrency:         a.cfg.Ingestion.Concurrency,
		DocumentConcurrency: a.cfg.Ingestion.DocumentConcurrency,
		EmbedRatePerSecond:  a.cfg.Ingestion.EmbedRatePerSecond,
	})
}

func (a *app) orchestrator() (*search.Orchestrator, error) {
	embedder, err := a.loadEmbedder()
	if err != nil {
		return nil, err
	}
	return search.NewOrchestrator(search.Deps{
		Backend:   a.index,
		Embedder:  embedder,
		Policy:    a.policy,
		Documents: a.documents,
		Chunks:    a.index,
		Logger:    a.logger,
	}, search.Options{
		Timeout:       a.cfg.Search.Timeout,
		SnippetLength: a.cfg.Search.SnippetLength,
	})
}

// understandingService runs without a model when none is configured; only
// citation extraction is available then.
func (a *app) understandingService() (*understanding.Service, error) {
	client, err := llm.NewClient(a.cfg, a.logger)
	if err != nil {
		a.logger.Warn("language model unavailable, generative operations disabled", "error", err)
		client = nil
	}
	deps := understanding.Deps{
		Documents: a.documents,
		Chunks:    a.index,
		LLM:       client,
		Policy:    a.policy,
		Logger:    a.logger,
	}
	if a.graph != nil {
		deps.Related = a.graph
	}
	return understanding.NewService(deps, understanding.Options{})
}
