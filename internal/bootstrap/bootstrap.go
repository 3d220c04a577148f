package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/config"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
	"github.com/kirillkom/legal-rag-assistant/internal/core/usecase"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/cache/diskcache"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/interactionlog"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/llm/openai"
	natsqueue "github.com/kirillkom/legal-rag-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/resilience"
	searchqdrant "github.com/kirillkom/legal-rag-assistant/internal/infrastructure/search/qdrant"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/websearch/tavily"
	"github.com/kirillkom/legal-rag-assistant/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Orchestrator ports.QueryOrchestrator
	CacheStats   ports.CacheStatsReader
	Metrics      *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	domains, err := config.LoadDomains(cfg.DomainsPath)
	if err != nil {
		return nil, fmt.Errorf("load domain catalogue: %w", err)
	}

	cache, err := diskcache.New(diskcache.Config{
		BasePath:     cfg.CachePath,
		TTL:          time.Duration(cfg.CacheTTLHours) * time.Hour,
		MaxSizeBytes: int64(cfg.CacheMaxSizeMB) * 1024 * 1024,
		KeepNewest:   cfg.CacheKeepNewest,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init artifact cache: %w", err)
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	orchestrationMetrics := metrics.NewOrchestrationRecorder(httpMetrics, "api")

	llmPolicy := resilience.DefaultConfig()
	llmPolicy.RateLimitPerSecond = cfg.RateLimitPerSecond
	llmPolicy.RateLimitBurst = cfg.RateLimitBurst
	llmExecutor := resilience.NewExecutor(llmPolicy, logger)
	webExecutor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	llmTimeout := time.Duration(cfg.LLMTimeoutSecs) * time.Second
	searchTimeout := time.Duration(cfg.SearchTimeoutSecs) * time.Second

	llmClient, err := openai.New(openai.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		ChatModel:   cfg.OpenAIChatModel,
		EmbedModel:  cfg.OpenAIEmbedModel,
		Temperature: float32(cfg.OpenAITemperature),
		Timeout:     llmTimeout,
	}, llmExecutor, cache, logger)
	if err != nil {
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	searchIndex := searchqdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix)
	fusion := usecase.NewFusionEngine(usecase.FusionConfig{
		Mode:       cfg.FusionMode,
		RRFK:       cfg.FusionRRFK,
		TopK:       cfg.RetrievalTopK,
		WeightBM25: cfg.FusionWeightBM25,
	})

	var reranker ports.Reranker
	if cfg.RerankMode == "selection" {
		reranker = usecase.NewSelectionReranker(llmClient, logger)
	} else {
		reranker = usecase.NewPairwiseReranker(llmClient, logger)
	}

	agents := make([]ports.DomainAgent, 0, len(domains))
	for _, d := range domains {
		retriever := usecase.NewHybridRetriever(usecase.HybridRetrieverConfig{
			Domain:       d.Name,
			TopK:         cfg.RetrievalTopK,
			WeightBM25:   cfg.FusionWeightBM25,
			WeightVector: 1.0 - cfg.FusionWeightBM25,
			Timeout:      searchTimeout,
		}, searchIndex, llmClient, fusion, cache, logger)

		agents = append(agents, usecase.NewSpecializedAgent(usecase.AgentConfig{
			Domain:           d.Name,
			RerankTopN:       cfg.RerankTopN,
			ParaphraseCount:  cfg.ParaphraseCount,
			HistoryLimit:     cfg.HistoryLimit,
			LLMTimeout:       llmTimeout,
			RetrievalTimeout: searchTimeout,
		}, llmClient, llmClient, retriever, reranker, cache, logger))
	}

	router := usecase.NewRouter(llmClient, domains, llmTimeout, logger)

	var webFallback *usecase.WebFallback
	if cfg.TavilyAPIKey != "" {
		searcher, err := tavily.New(tavily.Config{
			APIKey:  cfg.TavilyAPIKey,
			Timeout: searchTimeout,
		}, webExecutor, logger)
		if err != nil {
			return nil, fmt.Errorf("init tavily client: %w", err)
		}
		webFallback = usecase.NewWebFallback(usecase.WebFallbackConfig{
			MaxResults:    cfg.WebMaxResults,
			SearchTimeout: searchTimeout,
			LLMTimeout:    llmTimeout,
		}, searcher, llmClient, logger)
	} else {
		logger.Warn("tavily api key missing, web fallback disabled")
	}

	closers := make([]func(), 0, 4)

	var history ports.ConversationStore
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewConversationRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		history = repo
		closers = append(closers, func() { _ = db.Close() })
	} else {
		logger.Warn("postgres dsn missing, conversation history disabled")
	}

	recorder, err := interactionlog.New(cfg.InteractionLog)
	if err != nil {
		return nil, fmt.Errorf("init interaction log: %w", err)
	}
	closers = append(closers, func() { _ = recorder.Close() })

	var publisher ports.InteractionPublisher
	if cfg.NATSEnabled {
		natsPublisher, err := natsqueue.New(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: webExecutor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init nats publisher: %w", err)
		}
		publisher = natsPublisher
		closers = append(closers, natsPublisher.Close)
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		MaxConcurrentAgents: cfg.MaxConcurrent,
		HistoryLimit:        cfg.HistoryLimit,
		LLMTimeout:          llmTimeout,
	}, llmClient, router, agents, webFallback, history, recorder, publisher, orchestrationMetrics, logger)

	return &App{
		Config:       cfg,
		Orchestrator: orchestrator,
		CacheStats:   orchestrationMetrics.InstrumentCacheStats(cache),
		Metrics:      httpMetrics,

		closeFn: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
