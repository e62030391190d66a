package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/api/handlers"
	"github.com/postpilothq/postpilot/internal/api/middleware"
	job "github.com/postpilothq/postpilot/internal/jobs"
	"github.com/postpilothq/postpilot/internal/publisher"
	"github.com/postpilothq/postpilot/internal/queue"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/scheduler"
	"github.com/postpilothq/postpilot/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewScheduledPostRepository(db)
	targetRepo := repository.NewPostTargetRepository(db)
	connectionRepo := repository.NewPlatformConnectionRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	apiKeyRepository := repository.NewApiKeyRepository(db)

	storageService := service.NewStorageService(*cfg)
	postService := service.NewPostService(*cfg, db, postRepo, targetRepo, connectionRepo, mediaAssetRepo, postMediaRepo, storageService)
	platformService := service.NewPlatformService(*cfg, connectionRepo)
	oauthService := service.NewOAuthService(*cfg, connectionRepo)
	connectionService := service.NewConnectionService(*cfg, connectionRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepository)

	registry := publisher.NewRegistry(
		publisher.NewYoutubePublisher(),
		publisher.NewInstagramPublisher(),
		publisher.NewTiktokPublisher(),
		publisher.NewTwitterPublisher(),
	)

	publishService := service.NewPublishService(*cfg, postRepo, targetRepo, postMediaRepo, mediaAssetRepo, connectionService, registry)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	platform := handlers.NewPlatformHandler(platformService, oauthService, *cfg)
	app.Get("/auth/:platform", platform.ConnectPlatform)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.SchedulePost)
	api.Get("/posts", post.GetPost)
	api.Get("/posts/upcoming", post.ListUpcoming)
	api.Get("/posts/history", post.ListHistory)
	api.Get("/posts/stats", post.GetStats)
	api.Post("/posts/update", post.UpdatePost)
	api.Post("/posts/cancel", post.CancelPost)
	api.Post("/posts/retry", post.RetryPost)
	api.Post("/posts/remove", post.RemovePost)

	// platform connection api routes
	api.Get("/connections", platform.ListConnections)
	api.Post("/connections/remove", platform.DisconnectPlatform)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(connectionRepo, connectionService)

	//queue
	queueW := queue.NewQueue(publishService)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	dispatcher := scheduler.NewDispatcher(*cfg, postRepo, publishService)
	dispatcher.Start()
	defer dispatcher.Stop()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
