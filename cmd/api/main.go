package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/support-copilot/backend/internal/api/handlers"
	"github.com/support-copilot/backend/internal/cache/redis"
	"github.com/support-copilot/backend/internal/embedding"
	"github.com/support-copilot/backend/internal/evaluation"
	"github.com/support-copilot/backend/internal/gap"
	"github.com/support-copilot/backend/internal/index"
	"github.com/support-copilot/backend/internal/kbgen"
	"github.com/support-copilot/backend/internal/llm"
	"github.com/support-copilot/backend/internal/metrics"
	"github.com/support-copilot/backend/internal/middleware/ratelimit"
	"github.com/support-copilot/backend/internal/middleware/security"
	"github.com/support-copilot/backend/internal/qa"
	"github.com/support-copilot/backend/internal/research"
	"github.com/support-copilot/backend/internal/search"
	"github.com/support-copilot/backend/internal/storage/sqlite"
	"github.com/support-copilot/backend/internal/triage"
	"github.com/support-copilot/backend/internal/vector/milvus"
	"github.com/support-copilot/backend/pkg/config"
	appLogger "github.com/support-copilot/backend/pkg/logger"
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

	appLogger.Info("Starting Support Copilot API Server")
	metrics.Register()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		context.Background(),
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionPrefix,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	for _, pool := range search.AllPools() {
		err = milvusClient.EnsureCollection(context.Background(), string(pool))
		if err != nil {
			appLogger.Fatal("Failed to ensure collection",
				zap.String("pool", string(pool)), zap.Error(err))
		}
	}

	var embeddingCache embedding.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			embeddingCache = redisClient
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		FastModel:      cfg.LLM.FastModel,
		SynthModel:     cfg.LLM.SynthModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxConcurrent:  cfg.LLM.MaxConcurrent,
	})

	embedder := embedding.NewService(llmClient, embeddingCache)

	searcher := search.NewSearcher(
		index.NewPoolIndexes(milvusClient, sqliteClient),
		search.Config{
			RRFConstant: cfg.Search.RRFConstant,
			Overfetch:   cfg.Search.Overfetch,
		},
	)

	triageAgent := triage.NewAgent(llmClient, embedder, searcher, sqliteClient, triage.Config{
		ResultLimit:    cfg.Search.ResultLimit,
		SecondaryLimit: cfg.Search.SecondaryLimit,
	})

	researchAgent := research.NewAgent(llmClient, embedder, searcher, triageAgent, research.Config{
		MaxSubQueries:    cfg.Research.MaxSubQueries,
		ResultsPerQuery:  cfg.Research.ResultsPerQuery,
		MaxContextItems:  cfg.Research.MaxContextItems,
		EnableReranking:  cfg.Research.EnableReranking,
		RerankCandidates: cfg.Research.RerankCandidates,
		StageTimeout:     time.Duration(cfg.Research.StageTimeoutSec) * time.Second,
	})

	gapEngine := gap.NewEngine(embedder, searcher, llmClient, sqliteClient, gap.Config{
		SimilarityThreshold: cfg.Gap.SimilarityThreshold,
	})

	generator := kbgen.NewGenerator(llmClient, sqliteClient, kbgen.Config{
		TranscriptCharBudget: cfg.Gap.TranscriptCharBudget,
	})

	qaEngine := qa.NewEngine(llmClient, sqliteClient, qa.Config{
		ScoreConcurrency: cfg.QA.ScoreConcurrency,
	})

	evalConfig := evaluation.Config{
		MaxConcurrent: cfg.Evaluation.MaxConcurrent,
		QuestionLimit: cfg.Evaluation.QuestionLimit,
	}
	quickHarness := evaluation.NewHarness(evaluation.NewAskRunner(triageAgent), sqliteClient, evalConfig)
	researchHarness := evaluation.NewHarness(evaluation.NewResearchRunner(researchAgent), sqliteClient, evalConfig)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{TokensPerMinute: 120})
	defer limiter.Stop()

	copilotHandler := handlers.NewCopilotHandler(triageAgent, researchAgent)
	wsHandler := handlers.NewWebSocketHandler(researchAgent)
	learningHandler := handlers.NewLearningHandler(gapEngine, generator, sqliteClient)
	evaluationHandler := handlers.NewEvaluationHandler(quickHarness, researchHarness)
	documentHandler := handlers.NewDocumentHandler(embedder, milvusClient, sqliteClient, cfg.Search.PreviewLength)
	qaHandler := handlers.NewQAHandler(qaEngine, sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/copilot/ask", limiter.Middleware(1), copilotHandler.HandleAsk)
	api.Post("/copilot/research", limiter.Middleware(5), copilotHandler.HandleResearch)

	api.Post("/learning/detect-gap", limiter.Middleware(5), learningHandler.HandleDetectGap)
	api.Get("/learning/events", learningHandler.ListEvents)
	api.Post("/learning/events/:id/review", learningHandler.ReviewEvent)

	api.Post("/documents", limiter.Middleware(1), documentHandler.UploadDocument)

	api.Post("/qa/conversations", limiter.Middleware(1), qaHandler.UploadConversation)
	api.Post("/qa/score/:id", limiter.Middleware(5), qaHandler.ScoreConversation)
	api.Post("/qa/score-all", limiter.Middleware(20), qaHandler.ScoreAll)
	api.Get("/qa/conversations", qaHandler.ListConversations)
	api.Get("/qa/detail/:id", qaHandler.GetScoreDetail)
	api.Get("/qa/scores", qaHandler.ListScores)

	api.Post("/evaluation/run", limiter.Middleware(20), evaluationHandler.HandleRun)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/research", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.Handler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
