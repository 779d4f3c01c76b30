package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/support-rag/backend/internal/analyzer"
	"github.com/support-rag/backend/internal/api/handlers"
	"github.com/support-rag/backend/internal/cache/redis"
	"github.com/support-rag/backend/internal/crag"
	"github.com/support-rag/backend/internal/kg/graph"
	"github.com/support-rag/backend/internal/kg/neo4j"
	"github.com/support-rag/backend/internal/knowledge"
	"github.com/support-rag/backend/internal/llm"
	"github.com/support-rag/backend/internal/memory"
	"github.com/support-rag/backend/internal/metrics"
	"github.com/support-rag/backend/internal/middleware/ratelimit"
	"github.com/support-rag/backend/internal/middleware/security"
	"github.com/support-rag/backend/internal/middleware/validation"
	"github.com/support-rag/backend/internal/pipeline"
	"github.com/support-rag/backend/internal/prompt"
	"github.com/support-rag/backend/internal/quality"
	"github.com/support-rag/backend/internal/reflexion"
	"github.com/support-rag/backend/internal/rerank"
	"github.com/support-rag/backend/internal/search"
	"github.com/support-rag/backend/internal/storage/sqlite"
	"github.com/support-rag/backend/internal/vector"
	"github.com/support-rag/backend/internal/vector/pgvector"
	"github.com/support-rag/backend/internal/vector/zilliz"
	"github.com/support-rag/backend/pkg/config"
	appLogger "github.com/support-rag/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting support RAG API server")

	metrics.Init()

	ctx := context.Background()
	callTimeout := time.Duration(cfg.Pipeline.CallTimeoutSec) * time.Second
	checks := map[string]handlers.Check{}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			appLogger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}
	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	checks["sqlite"] = sqliteClient.Ping

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	var sharedEmbeddings llm.EmbeddingStore
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, using in-process embedding cache only", zap.Error(err))
		} else {
			defer redisClient.Close()
			sharedEmbeddings = redisClient
			checks["redis"] = redisClient.Ping
		}
	}
	embedder := llm.NewCachedEmbedder(
		llmClient,
		sharedEmbeddings,
		cfg.Pipeline.EmbeddingCacheSize,
		time.Duration(cfg.Redis.EmbeddingTTLMin)*time.Minute,
	)

	vectorStore := openVectorStore(ctx, cfg.Vector)
	if vectorStore != nil {
		defer vectorStore.Close()
	}

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		appLogger.Warn("Knowledge base not loaded, requests must carry their own", zap.Error(err))
		kb = knowledge.NewBase(nil)
	}
	if cfg.Knowledge.IndexOnStart && vectorStore != nil && kb.Size() > 0 {
		if _, err := knowledge.Index(ctx, kb.Snapshot(), llmClient, vectorStore); err != nil {
			appLogger.Error("Failed to index knowledge base", zap.Error(err))
		}
	}

	var graphContext pipeline.GraphContext
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(
			cfg.Neo4j.URI,
			cfg.Neo4j.Username,
			cfg.Neo4j.Password,
			cfg.Neo4j.Database,
		)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, graph context disabled", zap.Error(err))
		} else {
			defer neo4jClient.Close(context.Background())
			graphContext = graph.NewQuery(neo4jClient, callTimeout)
			checks["neo4j"] = neo4jClient.Ping
		}
	}

	searchOpts := []search.Option{search.WithTimeout(callTimeout)}
	if vectorStore != nil {
		searchOpts = append(searchOpts, search.WithVectorSearch(embedder, vectorStore))
	}

	var apiScorer rerank.Scorer
	if cfg.Rerank.Enabled {
		apiScorer = rerank.NewAPIClient(rerank.APIConfig{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
		})
	}

	persona, err := prompt.LoadPersona(cfg.Prompt.PersonaPath)
	if err != nil {
		appLogger.Warn("Persona file not loaded, using default", zap.Error(err))
		persona = prompt.DefaultPersona
	}

	memoryEngine := memory.NewEngine(
		memory.NewCoreMemory(sqliteClient, llmClient, cfg.Pipeline.ExtractionTurns, callTimeout),
		memory.NewRecallMemory(sqliteClient),
		cfg.Pipeline.MemoryTokenBudget,
	)

	chatPipeline, err := pipeline.New(pipeline.Deps{
		Analyzer:  analyzer.NewAnalyzer(llmClient, cfg.Pipeline.AnalyzerHistoryTurns, callTimeout),
		Searcher:  search.NewEngine(searchOpts...),
		Reranker:  rerank.NewReranker(apiScorer, rerank.NewLLMScorer(llmClient, callTimeout)),
		Generator: llmClient,
		Corrector: crag.NewEvaluator(llmClient, callTimeout),
		Memory:    memoryEngine,
		Quality:   quality.NewScorer(sqliteClient, llmClient, callTimeout),
		Reflexion: reflexion.NewEngine(sqliteClient, llmClient, callTimeout),
		Graph:     graphContext,
		Turns:     sqliteClient,
	}, pipeline.Config{
		Persona:            persona,
		GenerationHistory:  cfg.Pipeline.GenerationHistory,
		MaxOutputTokens:    cfg.Pipeline.MaxOutputTokens,
		GraphTokenBudget:   cfg.Pipeline.GraphTokenBudget,
		EvidenceCharBudget: cfg.Pipeline.EvidenceCharBudget,
		EscalateAfterLow:   cfg.Pipeline.EscalateAfterLow,
		BackgroundWorkers:  cfg.Pipeline.BackgroundWorkers,
		BackgroundTimeout:  time.Duration(cfg.Pipeline.BackgroundTimeoutSec) * time.Second,
		TurnCacheSize:      cfg.Pipeline.TurnCacheSize,
		TurnCacheTTL:       time.Duration(cfg.Pipeline.TurnCacheTTLMin) * time.Minute,
	})
	if err != nil {
		appLogger.Fatal("Failed to build chat pipeline", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	chatHandler := handlers.NewChatHandler(chatPipeline, kb)
	wsHandler := handlers.NewWebSocketHandler(chatHandler, time.Duration(cfg.Server.WriteTimeout)*time.Second)
	healthHandler := handlers.NewHealthHandler(checks)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	guarded := api.Group("", limiter.Middleware(), validation.Middleware(validation.Config{
		Logger: appLogger.Named("validation"),
	}))
	guarded.Post("/chat", chatHandler.HandleChat)
	guarded.Get("/chat/history", chatHandler.GetHistory)
	guarded.Post("/feedback", chatHandler.HandleFeedback)
	guarded.Use("/ws", handlers.RequireUpgrade)
	guarded.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.Int("knowledge_records", kb.Size()),
		zap.Bool("vector_search", vectorStore != nil),
		zap.Bool("graph_context", graphContext != nil),
	)

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("HTTP shutdown failed", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := chatPipeline.Shutdown(drainCtx); err != nil {
		appLogger.Warn("Background tasks cut short", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// openVectorStore connects the configured neighbour store. A store that
// cannot be reached leaves search lexical-only.
func openVectorStore(ctx context.Context, cfg config.VectorConfig) vector.Store {
	switch cfg.Provider {
	case "milvus":
		client, err := zilliz.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, cfg.Dim)
		if err != nil {
			appLogger.Warn("Milvus unavailable, vector search disabled", zap.Error(err))
			return nil
		}
		if err := client.CreateCollection(ctx); err != nil {
			appLogger.Warn("Milvus collection setup failed, vector search disabled", zap.Error(err))
			client.Close()
			return nil
		}
		return client
	case "pgvector":
		store, err := pgvector.NewStore(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, cfg.Dim)
		if err != nil {
			appLogger.Warn("Postgres unavailable, vector search disabled", zap.Error(err))
			return nil
		}
		if err := store.EnsureSchema(ctx); err != nil {
			appLogger.Warn("pgvector schema setup failed, vector search disabled", zap.Error(err))
			store.Close()
			return nil
		}
		return store
	default:
		return nil
	}
}
