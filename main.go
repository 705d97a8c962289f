package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/logger"
	"github.com/MTES-MCT/trackdechets-sub030/routes"
	"github.com/MTES-MCT/trackdechets-sub030/services/adminrequests"
	"github.com/MTES-MCT/trackdechets-sub030/services/companies"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

func main() {
	cfg := config.Load()

	database.ConnectDB()
	database.ConnectRedis()

	app := fiber.New(fiber.Config{
		ErrorHandler: utils.ErrorHandler,
	})

	// CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// Routes API
	routes.SetupAuthRoutes(app)
	routes.SetupAdminRequestRoutes(app)
	routes.SetupBsdRoutes(app)
	routes.SetupRevisionRoutes(app)
	routes.SetupCompanyRoutes(app)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "trackdechets-core"})
	})

	// Balayages périodiques : expiration des demandes d'administration et
	// courriers de vérification. Idempotents : peuvent aussi être lancés
	// par un script planifié externe.
	go expiryLoop(cfg)
	go lettersLoop(cfg)

	log.Fatal(app.Listen(cfg.HTTPAddr()))
}

func expiryLoop(cfg config.Config) {
	service := adminrequests.NewService(database.DB, database.Redis, cfg)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := service.Expire(context.Background()); err != nil {
			logger.Get().WithError(err).Error("échec du balayage d'expiration")
		}
	}
}

func lettersLoop(cfg config.Config) {
	service := companies.NewService(database.DB, database.Redis, cfg)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := service.SendVerificationLetters(context.Background()); err != nil {
			logger.Get().WithError(err).Error("échec de l'envoi des courriers de vérification")
		}
	}
}
