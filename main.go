package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"leadsync/config"
	"leadsync/crm"
	"leadsync/middleware"
	"leadsync/routes"
	"leadsync/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SYNC: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// OAuth state tokens live in Redis when available so multiple instances
	// share them; otherwise an in-process TTL cache
	var states crm.StateStore
	if config.AppConfig.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		states = crm.NewRedisStateStore(rdb)
		logger.Println("Using Redis-backed OAuth state store")
	} else {
		states = crm.NewMemoryStateStore()
	}

	// Build the sync engine
	oauthManager := crm.NewOAuthManager(states, log.New(os.Stdout, "OAUTH: ", log.LstdFlags))
	client := crm.NewClient(config.AppConfig.ProviderTimeout)
	outbound := crm.NewOutboundSync(config.DB, oauthManager, client, log.New(os.Stdout, "OUTBOUND: ", log.LstdFlags))
	inbound := crm.NewInboundSync(config.DB, oauthManager, client, log.New(os.Stdout, "INBOUND: ", log.LstdFlags))

	// Initialize and start the inbound poll worker
	syncWorker := worker.NewSyncWorker(config.DB, inbound, outbound, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, &routes.Engine{
		OAuth:    oauthManager,
		Client:   client,
		Outbound: outbound,
		Inbound:  inbound,
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
