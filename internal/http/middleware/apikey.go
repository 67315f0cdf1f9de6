package middleware

import "github.com/gofiber/fiber/v2"

// APIKeyHeader carries the shared secret for mutating endpoints.
const APIKeyHeader = "x-api-key"

// APIKey gates mutating endpoints behind a shared-secret header. Read endpoints
// never pass through this middleware; public read, gated write is deliberate.
//
// Rules, evaluated in order:
//   - no key configured on the server: fail closed with a server error, which is
//     a misconfiguration and distinct from a client auth failure
//   - header absent: 401
//   - header does not exactly match: 403
//
// The configured key is never echoed back to the client.
func APIKey(configured string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if configured == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Server configuration error",
				"code":    "CONFIG_ERROR",
			})
		}

		provided := c.Get(APIKeyHeader)
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "API key is required",
				"code":    "KEY_REQUIRED",
			})
		}

		if provided != configured {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid API key",
				"code":    "INVALID_KEY",
			})
		}

		return c.Next()
	}
}
