package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/middleware"
	"github.com/MTES-MCT/trackdechets-sub030/services/companies"
)

func SetupCompanyRoutes(app *fiber.App) {
	service := companies.NewService(database.DB, database.Redis, config.Load())

	group := app.Group("/companies", middleware.JWTMiddleware)
	group.Post("/:orgId/renew-security-code", renewSecurityCode(service))
}

func renewSecurityCode(service *companies.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		company, err := service.RenewSecurityCode(c.Context(), middleware.CurrentUser(c), c.Params("orgId"))
		if err != nil {
			return err
		}
		// Le code n'est jamais sérialisé sur le modèle ; il n'est restitué
		// qu'ici, à l'administrateur qui vient de le renouveler.
		return c.JSON(fiber.Map{
			"org_id":        company.OrgID,
			"security_code": company.SecurityCode,
		})
	}
}
