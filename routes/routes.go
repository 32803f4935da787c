package routes

import (
	"log"
	"os"

	controller "leadsync/controllers"
	"leadsync/crm"
	"leadsync/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// Engine bundles the sync machinery built in main so the route layer can
// hand it to the controllers.
type Engine struct {
	OAuth    *crm.OAuthManager
	Client   *crm.Client
	Outbound *crm.OutboundSync
	Inbound  *crm.InboundSync
}

func SetupOAuthRoutes(app *fiber.App, db *gorm.DB, engine *Engine) {
	oauthLogger := log.New(os.Stdout, "OAUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	integrationController := controller.NewIntegrationController(db, oauthLogger, engine.OAuth, engine.Outbound, engine.Inbound, engine.Client)

	oauth := app.Group("/oauth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Init is protected: the state token binds the flow to the company
	oauth.Get("/init", middleware.Protected(), integrationController.InitOAuth)

	// The callback arrives from the provider's consent screen with no JWT
	oauth.Get("/callback/:provider", integrationController.OAuthCallback)

	oauthLogger.Println("OAuth routes initialized successfully")
}

func SetupWebhookRoutes(app *fiber.App, db *gorm.DB, engine *Engine) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)

	webhookController := controller.NewWebhookController(db, webhookLogger, engine.Inbound)

	// Webhooks authenticate with a request signature, not a JWT
	webhooks := app.Group("/webhooks", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhooks.Post("/hubspot", webhookController.HandleHubSpotWebhook)

	webhookLogger.Println("Webhook routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, engine *Engine) {
	// Initialize controllers with their respective loggers
	integrationController := controller.NewIntegrationController(db,
		log.New(os.Stdout, "INTEGRATION: ", log.LstdFlags),
		engine.OAuth, engine.Outbound, engine.Inbound, engine.Client)
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags), engine.Outbound)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Integration routes
	integration := api.Group("/crm-integration")
	integration.Get("/", integrationController.GetIntegration)
	integration.Post("/sync", integrationController.SyncLeads)
	integration.Get("/sync-status", integrationController.SyncStatus)
	integration.Post("/retry-failed", integrationController.RetryFailed)
	integration.Post("/pull", integrationController.PullFromCRM)
	integration.Put("/settings", integrationController.UpdateSettings)
	integration.Post("/test", integrationController.TestConnection)
	integration.Get("/errors", integrationController.ListErrors)
	integration.Delete("/", integrationController.Disconnect)

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Post("/import", leadController.ImportLeads)
	lead.Post("/export", leadController.ExportLeads)

	// Log initialization
	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, engine *Engine) {
	// Setup status and health check endpoints
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup OAuth routes
	SetupOAuthRoutes(app, db, engine)

	// Setup webhook routes
	SetupWebhookRoutes(app, db, engine)

	// Setup API routes
	SetupAPIRoutes(app, db, engine)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
