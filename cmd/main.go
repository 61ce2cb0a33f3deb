package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"

	"newsroomledger/internal/caching"
	"newsroomledger/internal/config"
	"newsroomledger/internal/handlers"
	"newsroomledger/internal/jobs/background"
	"newsroomledger/internal/middleware"
	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"
	"newsroomledger/internal/services"
	"newsroomledger/pkg/database"
)

const version = "1.0.0"

func main() {
	// Database connection
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// JWT configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = random.String(32) // Generate random secret for development
		log.Printf("WARNING: Using generated JWT secret: %s", jwtSecret)
	}

	// Payment provider configuration
	providerAPIKey := os.Getenv("PAYMENT_PROVIDER_API_KEY")
	providerBaseURL := os.Getenv("PAYMENT_PROVIDER_BASE_URL")
	webhookSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	skipVerify := os.Getenv("PAYMENT_WEBHOOK_SKIP_VERIFY") == "true"
	if webhookSecret == "" && !skipVerify {
		log.Fatal("PAYMENT_WEBHOOK_SECRET is required unless PAYMENT_WEBHOOK_SKIP_VERIFY=true")
	}
	appBaseURL := os.Getenv("APP_BASE_URL")
	if appBaseURL == "" {
		appBaseURL = "http://localhost:3000"
	}

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379" // Default Redis address
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0 // Default DB
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// MinIO configuration
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		minioEndpoint = "localhost:9000" // Default MinIO endpoint
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	if minioAccessKey == "" {
		minioAccessKey = "minioadmin" // Default for development
	}
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioSecretKey == "" {
		minioSecretKey = "minioadmin" // Default for development
	}
	minioBucket := os.Getenv("MINIO_WEBHOOK_BUCKET")
	if minioBucket == "" {
		minioBucket = "webhook-payloads"
	}
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	// Pricing catalog: built-in defaults, optionally overridden from a file
	catalog := pricing.DefaultCatalog()
	if pricingFile := os.Getenv("PRICING_FILE"); pricingFile != "" {
		catalog, err = config.LoadPricingCatalog(pricingFile)
		if err != nil {
			log.Fatalf("Failed to load pricing catalog from %s: %v", pricingFile, err)
		}
		log.Printf("Loaded pricing catalog from %s", pricingFile)
	}

	// Payload archive for rejected webhook payloads, optional
	var archive services.PayloadArchive
	archiveSvc, err := services.NewMinioArchive(minioEndpoint, minioAccessKey, minioSecretKey, minioBucket, useSSL)
	if err != nil {
		log.Printf("WARNING: payload archive unavailable: %v", err)
	} else {
		if err := archiveSvc.EnsureBucketExists(context.Background()); err != nil {
			log.Printf("WARNING: failed to ensure archive bucket: %v", err)
		}
		archive = archiveSvc
	}

	// Create cache service
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)

	// Create repositories
	accountRepo := repositories.NewTenantAccountRepo(pool)
	entryRepo := repositories.NewLedgerEntryRepo(pool)
	processedRepo := repositories.NewProcessedEventRepo(pool)

	// Create services
	creditSvc := services.NewCreditService(pool, cacheSvc)
	balanceSvc := services.NewBalanceService(accountRepo, entryRepo, catalog, cacheSvc)
	providerClient := services.NewPaymentProviderClient(providerAPIKey, providerBaseURL)
	checkoutSvc := services.NewCheckoutService(providerClient, catalog, appBaseURL)
	processor := services.NewWebhookProcessor(creditSvc, processedRepo, entryRepo, catalog, archive, webhookSecret, skipVerify)

	// Create handlers
	creditHandlers := handlers.NewCreditHandlers(creditSvc, balanceSvc, checkoutSvc, cacheSvc, catalog)
	webhookHandlers := handlers.NewWebhookHandlers(processor)
	healthHandlers := handlers.NewHealthHandlers(pool)

	// Background jobs
	scheduler := background.NewJobScheduler(creditSvc, accountRepo)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create Echo instance
	e := echo.New()

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)

	// API routes
	v1 := e.Group("/v1")

	// Webhook endpoint: authenticated by signature, not JWT
	v1.POST("/webhooks/payment-provider", webhookHandlers.PaymentProviderWebhook)

	// Pricing is public
	v1.GET("/credits/pricing", creditHandlers.GetPricing)

	// Protected routes (require JWT with a tenant claim)
	protected := v1.Group("")
	protected.Use(echojwt.WithConfig(middleware.JWTConfig(jwtSecret)))
	protected.Use(middleware.RequireTenant())

	protected.GET("/credits", creditHandlers.GetBalance)
	protected.GET("/credits/transactions", creditHandlers.GetTransactions)
	protected.POST("/credits/deduct", creditHandlers.DeductCredits)
	protected.POST("/credits/checkout", creditHandlers.CreateCheckout)

	// Start server
	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("Invalid port %s: %v", portStr, err)
	}

	log.Printf("Newsroom ledger server v%s starting on port %d", version, port)

	e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", port)))
}
