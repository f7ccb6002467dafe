package main

import (
	"os"

	"omg-license-server/internal/config"
	"omg-license-server/internal/database"
	"omg-license-server/internal/handler"
	"omg-license-server/internal/middleware"
	"omg-license-server/internal/service"
	"omg-license-server/internal/store"
	"omg-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	database.InitDB(cfg.DBPath, cfg.AdminBootstrapPass)
	util.SetSessionSecret(cfg.SessionSecret)

	st := store.New(database.DB)

	sheetSync, err := service.NewSheetSyncService(cfg.SheetSyncEnabled, cfg.SheetCredentialPath, cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sheet export")
	}

	reconciler := service.NewReconciler(st, service.NewStripeCustomerSource(cfg.StripeSecret), log.Logger)

	licenseHandler := handler.NewLicenseHandler(st, cfg.LicenseSecret, cfg.TokenLifetime, sheetSync, log.Logger)
	webhookHandler := handler.NewWebhookHandler(reconciler, st, cfg.StripeWebhookSecret, log.Logger)
	adminHandler := handler.NewAdminHandler(st)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New())

	api := app.Group("/api")

	// Licensing protocol (the CLI's surface)
	api.Get("/validate-license", licenseHandler.HandleValidateLicense)
	api.Post("/refresh-license", licenseHandler.HandleRefreshLicense)
	api.Post("/regenerate-license", licenseHandler.HandleRegenerateLicense)
	api.Post("/revoke-machine", licenseHandler.HandleRevokeMachine)

	// Billing provider callbacks
	api.Post("/billing-webhook", webhookHandler.HandleBillingWebhook)

	// Dashboard query interface
	auth := api.Group("/auth")
	auth.Post("/login", adminHandler.HandleLogin)

	admin := api.Group("/admin", middleware.Auth(), middleware.AdminOnly())
	admin.Get("/licenses", adminHandler.HandleListLicenses)
	admin.Get("/licenses/:key/seats", adminHandler.HandleLicenseSeats)
	admin.Get("/audit", adminHandler.HandleAuditLog)
	admin.Get("/statistics", adminHandler.HandleStatistics)

	log.Info().Str("port", cfg.Port).Msg("license server listening")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
