package routes

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/middleware"
	"github.com/MTES-MCT/trackdechets-sub030/services/adminrequests"
	"github.com/MTES-MCT/trackdechets-sub030/utils"
)

func SetupAdminRequestRoutes(app *fiber.App) {
	service := adminrequests.NewService(database.DB, database.Redis, config.Load())

	group := app.Group("/admin-requests", middleware.JWTMiddleware)
	group.Post("/", createAdminRequest(service))
	group.Post("/accept", acceptAdminRequest(service))
	group.Post("/:id/refuse", refuseAdminRequest(service))
}

func createAdminRequest(service *adminrequests.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input adminrequests.CreateInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
		}

		request, err := service.Create(c.Context(), middleware.CurrentUser(c), input)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(request)
	}
}

func acceptAdminRequest(service *adminrequests.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input adminrequests.AcceptInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
		}

		request, err := service.Accept(c.Context(), middleware.CurrentUser(c), input)
		if err != nil {
			return err
		}
		return c.JSON(request)
	}
}

func refuseAdminRequest(service *adminrequests.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil {
			return utils.NewUserInputError("Identifiant de demande invalide.")
		}

		request, err := service.Refuse(c.Context(), middleware.CurrentUser(c), uint(id))
		if err != nil {
			return err
		}
		return c.JSON(request)
	}
}
