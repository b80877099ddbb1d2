// handlers/notification_routes.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"quest-approval-system/middleware"
	"quest-approval-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupNotificationRoutes(app *fiber.App, notifier *services.ChangeNotifier, tokens middleware.TokenValidator) {
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware())

	adminGroup.Get("/notifications", func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)
		return c.JSON(fiber.Map{
			"success":       true,
			"notifications": notifier.Recent(reviewerID),
			"connected":     notifier.Connected(),
		})
	})

	adminGroup.Post("/notifications/read", func(c *fiber.Ctx) error {
		type readReq struct {
			ID  string `json:"id"`
			All bool   `json:"all"`
		}
		var req readReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}

		if req.All {
			notifier.MarkAllRead()
			return c.JSON(fiber.Map{"success": true, "message": "all notifications marked read"})
		}
		if !notifier.MarkRead(req.ID) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "unknown notification id",
			})
		}
		return c.JSON(fiber.Map{"success": true, "message": "notification marked read"})
	})

	// The stream pushes live notifications to a reviewer session until the
	// client disconnects. EventSource cannot send headers, so it sits behind
	// the token-query auth gate instead of the user-context middleware.
	app.Get("/s/admin/notifications/stream", middleware.SSEAuthMiddleware(tokens), func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		listenerID, events := notifier.Listen(reviewerID)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer notifier.Unlisten(listenerID)

			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case notif, ok := <-events:
					if !ok {
						// Notifier shut down
						return
					}
					payload, _ := json.Marshal(notif)
					fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}

				case <-ticker.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}

				case <-c.Context().Done():
					return
				}
			}
		})

		return nil
	})
}
