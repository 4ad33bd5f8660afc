package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/clinton-khozah/website-sub002/pkg/utils"
)

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearerClaims(c, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// AuthOptional resolves a viewer identity when a token is present and
// lets the request through as a guest otherwise. Used on the public
// slot listing, where guests get booking affordances too.
func AuthOptional(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearerClaims(c, secret)
		if err == nil {
			c.Locals("user_id", claims.UserID)
			c.Locals("role", claims.Role)
		}
		return c.Next()
	}
}

func parseBearerClaims(c *fiber.Ctx, secret string) (*utils.Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, fiber.ErrUnauthorized
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fiber.ErrUnauthorized
	}

	return utils.ValidateToken(parts[1], secret)
}
