package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MTES-MCT/trackdechets-sub030/config"
	"github.com/MTES-MCT/trackdechets-sub030/database"
	"github.com/MTES-MCT/trackdechets-sub030/models"
)

func JWTMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(401).JSON(fiber.Map{"error": "Non autorisé"})
	}

	tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.Load().JWTSecret), nil
	})

	if err != nil || !token.Valid {
		return c.Status(401).JSON(fiber.Map{"error": "Token invalide"})
	}

	claims := token.Claims.(jwt.MapClaims)
	userID := uint(claims["user_id"].(float64))

	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Utilisateur inconnu"})
	}

	c.Locals("user", &user)
	return c.Next()
}

// CurrentUser renvoie l'utilisateur chargé par JWTMiddleware.
func CurrentUser(c *fiber.Ctx) *models.User {
	return c.Locals("user").(*models.User)
}
