package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/workpulse-hq/workpulse/internal/pkg/env"
)

// AdminKeyMiddleware guards operator endpoints with the shared ADMIN_API_KEY.
// Comparison runs over SHA-256 digests in constant time. With no key
// configured the routes are unreachable, not open.
func AdminKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		configured := strings.TrimSpace(env.GetEnv("ADMIN_API_KEY", ""))
		if configured == "" {
			log.Warn("admin request rejected: ADMIN_API_KEY is not configured")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Admin API disabled"})
		}

		presented := strings.TrimSpace(c.Get("X-Admin-Key"))
		if presented == "" {
			presented = extractAPIKeyFromHeader(c)
		}

		want := sha256.Sum256([]byte(configured))
		got := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin key"})
		}
		return c.Next()
	}
}
