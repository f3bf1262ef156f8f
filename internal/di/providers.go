package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/policy-assistant/internal/config"
	"github.com/aihub/policy-assistant/internal/knowledge"
	"github.com/aihub/policy-assistant/internal/services"
	"github.com/aihub/policy-assistant/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Services 入口程序使用的服务句柄
type Services struct {
	dig.In

	Config        *config.Config
	Logger        *zap.Logger
	KnowledgeBase *services.KnowledgeBaseService
	Engine        *knowledge.QueryEngine
	Orchestrator  *services.ResponseOrchestrator
	Sessions      *services.SessionManager
	Metrics       *services.MetricsService
}

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container, cfg *config.Config, logger *zap.Logger) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger },
		provideRedis,
		provideEmbedder,
		provideMirror,
		provideIndexStore,
		provideIndexer,
		provideDocumentLoader,
		provideChunker,
		services.NewMetricsService,
		provideQueryEngine,
		provideGenerator,
		provideBreaker,
		provideTemplates,
		provideOrchestrator,
		provideKnowledgeBase,
		provideSessions,
	}
	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// provideRedis 未启用时返回nil
func provideRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("redis embedding cache enabled", zap.String("host", cfg.Redis.Host), zap.Duration("ttl", cfg.Redis.TTL))
	return client, nil
}

// embedderResult 文档向量化直连后端，只有查询向量走Redis缓存
type embedderResult struct {
	dig.Out

	Document knowledge.Embedder
	Query    knowledge.Embedder `name:"query"`
}

func provideEmbedder(cfg *config.Config, client *redis.Client, logger *zap.Logger) (embedderResult, error) {
	var embedder knowledge.Embedder
	switch cfg.Knowledge.Embedding.Provider {
	case "openai":
		embedder = knowledge.NewOpenAIEmbedder(knowledge.OpenAIEmbedderOptions{
			APIKey:     cfg.AI.OpenAIAPIKey,
			BaseURL:    cfg.AI.BaseURL,
			Model:      cfg.Knowledge.Embedding.Model,
			Dimensions: cfg.Knowledge.Embedding.Dimensions,
		})
		if !embedder.Ready() {
			return embedderResult{}, fmt.Errorf("openai embedding provider requires ai.openai_api_key")
		}
	default:
		embedder = knowledge.NewHashEmbedder(cfg.Knowledge.Embedding.Dimensions)
	}

	logger.Info("embedder configured",
		zap.String("model", embedder.Model()),
		zap.Int("dimensions", embedder.Dimensions()))

	result := embedderResult{Document: embedder, Query: embedder}
	if client != nil {
		cache := storage.NewRedisEmbeddingCache(client, cfg.Redis.TTL)
		result.Query = knowledge.NewCachedEmbedder(embedder, cache, logger.Named("embedding_cache"))
	}
	return result, nil
}

// provideMirror 本地存储时返回nil
func provideMirror(cfg *config.Config, logger *zap.Logger) (knowledge.ArtifactMirror, error) {
	storageCfg := cfg.Knowledge.Storage
	if storageCfg.Provider != "minio" {
		return nil, nil
	}
	client, err := storage.NewMinIOClient(storageCfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	mirror, err := storage.NewMinIOMirror(ctx, client, storageCfg.Bucket, storageCfg.Prefix, logger.Named("minio"))
	if err != nil {
		return nil, err
	}
	return mirror, nil
}

func provideIndexStore(cfg *config.Config, embedder knowledge.Embedder, mirror knowledge.ArtifactMirror, logger *zap.Logger) *knowledge.IndexStore {
	return knowledge.NewIndexStore(cfg.Knowledge.IndexPath, embedder.Dimensions(), mirror, logger.Named("index_store"))
}

func provideIndexer(cfg *config.Config, logger *zap.Logger) *knowledge.Indexer {
	idx := cfg.Knowledge.Index
	return knowledge.NewIndexer(knowledge.IndexerOptions{
		FlatThreshold:   idx.FlatThreshold,
		MaxClusters:     idx.MaxClusters,
		TrainIterations: idx.TrainIterations,
		NProbe:          idx.NProbe,
	}, logger.Named("indexer"))
}

func provideDocumentLoader(logger *zap.Logger) *knowledge.DocumentLoader {
	return knowledge.NewDocumentLoader(knowledge.NewFileParserManager(), logger.Named("documents"))
}

func provideChunker(cfg *config.Config) *knowledge.Chunker {
	return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
}

type queryEngineParams struct {
	dig.In

	Embedder knowledge.Embedder `name:"query"`
	Logger   *zap.Logger
}

func provideQueryEngine(p queryEngineParams) *knowledge.QueryEngine {
	return knowledge.NewQueryEngine(p.Embedder, p.Logger.Named("query"))
}

func provideGenerator(cfg *config.Config, logger *zap.Logger) services.Generator {
	gen, err := services.NewOpenAIGenerator(services.OpenAIGeneratorOptions{
		APIKey:      cfg.AI.OpenAIAPIKey,
		BaseURL:     cfg.AI.BaseURL,
		Model:       cfg.AI.ChatModel,
		Temperature: cfg.AI.Temperature,
		MaxRetries:  cfg.AI.MaxRetries,
	}, logger.Named("generator"))
	if err != nil {
		logger.Warn("generation backend unavailable, questions will receive an apology", zap.Error(err))
		return services.UnconfiguredGenerator{}
	}
	return gen
}

func provideBreaker(cfg *config.Config) *services.CircuitBreaker {
	return services.NewCircuitBreaker("generation", cfg.AI.BreakerFailures, 1, cfg.AI.BreakerCooldown)
}

func provideTemplates(cfg *config.Config) (services.Templates, error) {
	return services.LoadTemplates(cfg.Knowledge.TemplatesPath)
}

func provideOrchestrator(
	cfg *config.Config,
	engine *knowledge.QueryEngine,
	gen services.Generator,
	breaker *services.CircuitBreaker,
	metrics *services.MetricsService,
	templates services.Templates,
	logger *zap.Logger,
) *services.ResponseOrchestrator {
	return services.NewResponseOrchestrator(engine, gen, breaker, metrics, services.OrchestratorOptions{
		TopK:              cfg.Knowledge.TopK,
		GenerationTimeout: cfg.AI.GenerationTimeout,
		Templates:         templates,
	}, logger.Named("orchestrator"))
}

func provideKnowledgeBase(
	cfg *config.Config,
	loader *knowledge.DocumentLoader,
	chunker *knowledge.Chunker,
	embedder knowledge.Embedder,
	indexer *knowledge.Indexer,
	store *knowledge.IndexStore,
	metrics *services.MetricsService,
	logger *zap.Logger,
) *services.KnowledgeBaseService {
	return services.NewKnowledgeBaseService(loader, chunker, embedder, indexer, store, metrics, services.KnowledgeBaseOptions{
		DocumentPath:  cfg.Knowledge.DocumentPath,
		BatchSize:     cfg.Knowledge.EmbeddingBatchSize,
		WatchDebounce: cfg.Knowledge.WatchDebounce,
	}, logger.Named("knowledge_base"))
}

func provideSessions(cfg *config.Config, kb *services.KnowledgeBaseService, orchestrator *services.ResponseOrchestrator, logger *zap.Logger) *services.SessionManager {
	return services.NewSessionManager(kb, orchestrator, cfg.Server.SessionIdleTTL, logger.Named("sessions"))
}
