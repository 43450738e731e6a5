package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/deckquiz/deckquiz-go-api/internal/config"
	"github.com/deckquiz/deckquiz-go-api/internal/database"
	"github.com/deckquiz/deckquiz-go-api/internal/handler"
	"github.com/deckquiz/deckquiz-go-api/internal/middleware"
	"github.com/deckquiz/deckquiz-go-api/internal/repository"
	"github.com/deckquiz/deckquiz-go-api/internal/retry"
	"github.com/deckquiz/deckquiz-go-api/internal/router"
	"github.com/deckquiz/deckquiz-go-api/internal/service"
	"github.com/deckquiz/deckquiz-go-api/internal/vector"
	"github.com/deckquiz/deckquiz-go-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured, caching disabled")
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	} else {
		logger.Warn().Msg("nats not configured, events disabled")
	}

	aiClient, err := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		VisionModel:    cfg.VisionModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to create openai client: %v", err)
	}
	ocr := ai.NewVisionOCR(aiClient, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Retryable:   ai.IsRetryable,
	}

	deckRepo := repository.NewDeckRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	imageRepo := repository.NewImageRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	vectorStore := vector.NewStore(db, logger)
	events := service.NewEventPublisher(natsConn, "deckquiz", logger)

	activityService := service.NewActivityService(activityRepo, logger)
	deckService := service.NewDeckService(deckRepo, validate, activityService, events, cfg.MaxUploadSizeMB, logger)
	describeService := service.NewDescribeService(deckRepo, aiClient, ocr, redisClient, activityService, validate, service.DescribeOptions{
		BatchSize: cfg.DescribeBatchSize,
		CacheTTL:  cfg.DescribeCacheTTL,
		Retry:     retryPolicy,
	}, logger)
	collectionService := service.NewCollectionService(deckRepo, vectorStore, aiClient, activityService, retryPolicy, cfg.RetrieverTopK, logger)
	questionService := service.NewQuestionService(deckRepo, assignmentRepo, questionRepo, imageRepo, collectionService, aiClient, activityService, events, validate, retryPolicy, cfg.RetrieverTopK, logger)
	attemptService := service.NewAttemptService(submissionRepo, assignmentRepo, questionRepo, aiClient, activityService, events, validate, redisClient, retryPolicy, logger)
	dashboardService := service.NewDashboardService(assignmentRepo, submissionRepo, redisClient, cfg.DashboardCacheTTL, logger)

	deckHandler := handler.NewDeckHandler(deckService, describeService, collectionService, logger)
	assignmentHandler := handler.NewAssignmentHandler(questionService, logger)
	submissionHandler := handler.NewSubmissionHandler(attemptService, dashboardService, logger)
	activityHandler := handler.NewActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxUploadSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, logger)
	router.Register(app, cfg, router.Dependencies{
		DeckHandler:       deckHandler,
		AssignmentHandler: assignmentHandler,
		SubmissionHandler: submissionHandler,
		ActivityHandler:   activityHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
