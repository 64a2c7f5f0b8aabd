package main

import (
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

	"github.com/gtm-intel/backend/internal/api/handlers"
	"github.com/gtm-intel/backend/internal/cache"
	cacheredis "github.com/gtm-intel/backend/internal/cache/redis"
	"github.com/gtm-intel/backend/internal/extract"
	"github.com/gtm-intel/backend/internal/jobs"
	"github.com/gtm-intel/backend/internal/llm"
	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/middleware/ratelimit"
	"github.com/gtm-intel/backend/internal/middleware/security"
	"github.com/gtm-intel/backend/internal/middleware/validation"
	"github.com/gtm-intel/backend/internal/pipeline"
	"github.com/gtm-intel/backend/internal/scrape"
	"github.com/gtm-intel/backend/internal/search/serper"
	"github.com/gtm-intel/backend/internal/storage/sqlite"
	"github.com/gtm-intel/backend/pkg/circuitbreaker"
	"github.com/gtm-intel/backend/pkg/config"
	appLogger "github.com/gtm-intel/backend/pkg/logger"
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

	appLogger.Info("Starting GTM Research API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var store cache.Cache
	if cfg.Redis.Enabled {
		redisClient, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		store = redisClient
	} else {
		memCache := cache.NewMemory()
		defer memCache.Close()
		store = memCache
	}

	onBreakerChange := func(name string, from, to circuitbreaker.State) {
		metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	}

	serperBreaker := circuitbreaker.NewCircuitBreaker("serper", circuitbreaker.Config{
		FailureThreshold: 3,
		Timeout:          30 * time.Second,
		OnStateChange:    onBreakerChange,
		Logger:           appLogger.GetLogger(),
	})
	newsBreaker := circuitbreaker.NewCircuitBreaker("serper_news", circuitbreaker.Config{
		FailureThreshold: 3,
		Timeout:          45 * time.Second,
		OnStateChange:    onBreakerChange,
		Logger:           appLogger.GetLogger(),
	})
	openaiBreaker := circuitbreaker.NewCircuitBreaker("openai", circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          60 * time.Second,
		OnStateChange:    onBreakerChange,
		Logger:           appLogger.GetLogger(),
	})

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
		cfg.Research.StrategyCount,
		openaiBreaker,
		store,
	)

	serperClient := serper.NewClient(cfg.Serper.APIKey, cfg.Serper.TimeoutSec, store, serperBreaker, newsBreaker)
	scraper := scrape.NewScraper(cfg.Serper.TimeoutSec, store)
	extractor := extract.NewExtractor(llmClient)

	orchestrator := pipeline.New(pipeline.Deps{
		Strategies: llmClient,
		Extractor:  extractor,
		Searcher:   serperClient,
		Scraper:    scraper,
		Judge:      llmClient,
		Analyst:    llmClient,
		Logger:     appLogger.GetLogger(),
	})

	manager := jobs.NewManager(orchestrator, sqliteClient, appLogger.GetLogger())

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	researchHandler := handlers.NewResearchHandler(manager, cfg.Research)
	historyHandler := handlers.NewHistoryHandler(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(manager)

	api := app.Group("/api/v1")

	api.Post("/research", researchHandler.StartResearch)
	api.Get("/research", researchHandler.ListResearch)
	api.Get("/research/history", historyHandler.ListHistory)
	api.Get("/research/history/:id", historyHandler.GetHistory)
	api.Get("/research/:id", researchHandler.GetResearch)
	api.Get("/research/:id/status", researchHandler.GetResearchStatus)
	api.Delete("/research/:id", researchHandler.CancelResearch)

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

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/research/:id", websocket.New(wsHandler.HandleConnection))

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
