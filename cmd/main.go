package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"product-import-service/internal/config"
	"product-import-service/internal/events"
	"product-import-service/internal/handlers"
	"product-import-service/internal/importer"
	"product-import-service/internal/metrics"
	"product-import-service/internal/middleware"
	"product-import-service/internal/repository"
	"product-import-service/internal/tracing"
)

// @title Product Import API
// @version 1.0.0
// @description Product catalog service with asynchronous bulk CSV/XLSX import

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8087
// @BasePath /api/v1

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize Redis client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("WARNING: Failed to parse Redis URL: %v (continuing without Redis)", err)
		redisOpts = &redis.Options{
			Addr: "localhost:6379",
		}
	}
	redisClient := redis.NewClient(redisOpts)

	// Test Redis connection. Task state falls back to in-process memory when
	// Redis is unreachable, which loses progress across restarts but keeps
	// the service usable in development.
	redisUp := true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisUp = false
		log.Printf("WARNING: Failed to connect to Redis: %v (task state kept in memory)", err)
	} else {
		log.Println("✓ Redis connected successfully")
	}
	cancel()

	var taskStore importer.TaskStore
	if redisUp {
		taskStore = importer.NewRedisTaskStore(redisClient, cfg.ImportTaskTTL)
	} else {
		taskStore = importer.NewMemoryTaskStore()
	}

	// Initialize repository
	productsRepo := repository.NewProductsRepository(db, redisClient)

	// Initialize event publisher only if NATS_URL is set
	var eventsPublisher *events.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		eventsPublisher, err = events.NewPublisher(logger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize events publisher: %v (continuing without event publishing)", err)
		} else {
			log.Println("✓ Events publisher initialized (NATS connected)")
		}
	} else {
		log.Println("NATS_URL not set, skipping event publishing initialization")
	}
	defer func() {
		if eventsPublisher != nil {
			eventsPublisher.Close()
		}
	}()

	// Initialize Prometheus metrics
	appMetrics := metrics.New("product_import")
	log.Println("✓ Prometheus metrics initialized")

	// Initialize OpenTelemetry tracing
	shutdownTracing := tracing.Init(context.Background(), logger, "product-import-service", cfg.Environment)

	// Initialize import pipeline
	imports := importer.New(productsRepo, taskStore, logger, importer.Options{
		BatchSize:  cfg.ImportBatchSize,
		MaxRetries: cfg.ImportMaxRetries,
		Metrics:    appMetrics,
		Events:     eventsPublisher,
	})

	// Initialize handlers
	productsHandler := handlers.NewProductsHandler(productsRepo, logger, cfg.DefaultPageSize, cfg.MaxPageSize)
	importHandler := handlers.NewImportHandler(imports, cfg.UploadDir, logger)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Observability middleware (metrics + tracing)
	router.Use(appMetrics.Middleware())
	router.Use(otelgin.Middleware("product-import-service"))

	// CORS and request logging
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HealthCheck)
	router.GET("/metrics", metrics.Handler())

	// API routes
	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		{
			products.GET("", productsHandler.ListProducts)
			products.POST("", productsHandler.CreateProduct)
			products.GET("/:id", productsHandler.GetProduct)
			products.PATCH("/:id", productsHandler.UpdateProduct)
			products.DELETE("/:id", productsHandler.DeleteProduct)

			products.POST("/import", importHandler.ImportProducts)
			products.GET("/import/template", importHandler.GetImportTemplate)
			products.GET("/import/:taskId/status", importHandler.GetImportStatus)
			products.DELETE("/import/:taskId", importHandler.CancelImport)
		}
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Product import service starting on port %s", cfg.Port)
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	log.Println("Shutting down product-import-service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}

	log.Println("Product import service stopped")
}
