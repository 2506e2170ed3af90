package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"zapflow/config"
	"zapflow/middleware"
	"zapflow/routes"
	"zapflow/utils"
	"zapflow/worker"
)

func main() {
	logger := log.New(os.Stdout, "SCHEDULER: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis is optional; caches fall back to in-process storage without it
	var rdb *redis.Client
	if config.AppConfig.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Redis ping failed: %v", err)
		}
	}

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	// Caches and gateway client
	instanceCache := utils.NewInstanceCache(config.DB, rdb)
	qrCache := utils.NewQRCache(rdb, utils.DefaultQRTTL)
	gateway := utils.NewGatewayClient(
		config.AppConfig.Gateway.BaseURL,
		config.AppConfig.Gateway.APIKey,
		config.AppConfig.Gateway.Timeout,
	)

	// Scheduler pipeline: job store -> dispatcher -> poll loop
	rate := config.AppConfig.Rate
	store := worker.NewJobStore(config.DB, logger,
		time.Duration(rate.RetryBackoffMin)*time.Minute, rate.RetryMaxCount)
	limiter := worker.NewSendLimiter(rate.MaxSendsPerMinute, rate.DailySendCap)
	dispatcher := worker.NewDispatcher(config.DB, gateway, limiter, logger)
	scheduler := worker.NewSchedulerWorker(config.DB, store, dispatcher, logger,
		time.Duration(rate.SchedulerInterval)*time.Second, rate.MaxSendsPerSecond)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	// Setup routes
	routes.SetupRoutes(app, config.DB, store, instanceCache, qrCache)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	go func() {
		logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
		if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop ticking, drain in-flight deliveries, then
	// stop accepting HTTP traffic.
	<-ctx.Done()
	logger.Println("Shutdown signal received")
	<-schedulerDone
	if err := app.Shutdown(); err != nil {
		logger.Printf("Server shutdown error: %v", err)
	}
	logger.Println("Shutdown complete")
}
