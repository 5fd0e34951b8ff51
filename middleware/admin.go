package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// RequireAdmin gates a route group on the admin role extracted by
// UserContextMiddleware. Must be applied after it.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, role := range roles {
			if role == "admin" {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin role required",
		})
	}
}
