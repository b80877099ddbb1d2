// quest-approval-system/middleware/sse_auth.go
package middleware

import (
	"log"
	"strings"

	"quest-approval-system/services"

	"github.com/gofiber/fiber/v2"
)

// TokenValidator is the slice of the auth client the SSE gate needs.
type TokenValidator interface {
	ValidateToken(accessToken string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` from the query string via the auth
// service. EventSource cannot set request headers, so the notification
// stream authenticates here instead of through the gateway-injected user
// context.
//
// Usage:
//
//	app.Get("/s/admin/notifications/stream", middleware.SSEAuthMiddleware(authClient), streamHandler)
func SSEAuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		if accessToken == "" {
			log.Printf("[SSE_AUTH] ❌ Missing token query param for %s", c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "missing token in query",
			})
		}

		resp, err := validator.ValidateToken(accessToken)
		if err != nil {
			log.Printf("[SSE_AUTH] ❌ Token validation failed for %s: %v", c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "unauthorized",
			})
		}

		// Same locals as UserContextMiddleware, sourced from the query token
		c.Locals("user_id", resp.UserID)
		c.Locals("user_roles", resp.Roles)

		log.Printf("[SSE_AUTH] ✅ Authenticated %s for %s", resp.UserID, c.Path())
		return c.Next()
	}
}
