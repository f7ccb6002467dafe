package middleware

import (
	"strings"

	"omg-license-server/internal/database"
	"omg-license-server/internal/model"
	"omg-license-server/internal/util"

	"github.com/gofiber/fiber/v2"
)

// Auth requires a valid dashboard session token and stores the user id
// in the request context.
func Auth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
			})
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization format",
			})
		}

		userID, err := util.ValidateToken(tokenParts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization token",
			})
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// AdminOnly requires the authenticated user to carry the admin role.
// Role is read from the user record, never from ambient configuration.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(uint)

		var user model.User
		result := database.DB.First(&user, userID)
		if result.Error != nil || user.Role != "admin" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin privileges required",
			})
		}

		return c.Next()
	}
}
