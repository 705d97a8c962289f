package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/middleware"
	"github.com/MTES-MCT/trackdechets-sub030/services/bsds"
)

func SetupBsdRoutes(app *fiber.App) {
	service := bsds.NewService(database.DB, database.Redis, config.Load())

	group := app.Group("/bsds", middleware.JWTMiddleware)
	group.Post("/", createBsd(service))
	group.Get("/:id", getBsd(service))
	group.Post("/:id/sign", signBsd(service))
	group.Delete("/:id", deleteBsd(service))
}

func createBsd(service *bsds.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input bsds.CreateInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
		}

		bsd, err := service.Create(c.Context(), middleware.CurrentUser(c), input)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(bsd)
	}
}

func getBsd(service *bsds.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bsd, err := service.Get(c.Context(), middleware.CurrentUser(c), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(bsd)
	}
}

func signBsd(service *bsds.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input bsds.SignInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
		}
		input.BsdID = c.Params("id")

		bsd, err := service.Sign(c.Context(), middleware.CurrentUser(c), input)
		if err != nil {
			return err
		}
		return c.JSON(bsd)
	}
}

func deleteBsd(service *bsds.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := service.Delete(c.Context(), middleware.CurrentUser(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
