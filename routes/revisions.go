package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/middleware"
	"github.com/MTES-MCT/trackdechets-sub030/services/revisions"
)

func SetupRevisionRoutes(app *fiber.App) {
	service := revisions.NewService(database.DB, database.Redis, config.Load())

	group := app.Group("/revisions", middleware.JWTMiddleware)
	group.Post("/", createRevision(service))
	group.Post("/:id/accept", acceptRevision(service))
	group.Post("/:id/refuse", refuseRevision(service))
	group.Post("/:id/cancel", cancelRevision(service))
}

type revisionDecisionPayload struct {
	Comment string `json:"comment"`
}

func createRevision(service *revisions.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input revisions.CreateInput
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

func acceptRevision(service *revisions.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var payload revisionDecisionPayload
		_ = c.BodyParser(&payload)

		request, err := service.Accept(c.Context(), middleware.CurrentUser(c), c.Params("id"), payload.Comment)
		if err != nil {
			return err
		}
		return c.JSON(request)
	}
}

func refuseRevision(service *revisions.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var payload revisionDecisionPayload
		_ = c.BodyParser(&payload)

		request, err := service.Refuse(c.Context(), middleware.CurrentUser(c), c.Params("id"), payload.Comment)
		if err != nil {
			return err
		}
		return c.JSON(request)
	}
}

func cancelRevision(service *revisions.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := service.Cancel(c.Context(), middleware.CurrentUser(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
