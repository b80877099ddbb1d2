// handlers/workflow_routes.go
package handlers

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"quest-approval-system/middleware"
	"quest-approval-system/models"
	"quest-approval-system/services"
	"quest-approval-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// errorResult converts a pipeline error into the {success, error} result
// shape. Nothing escapes a handler as a fault.
func errorResult(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusUnauthorized
	case errors.Is(err, services.ErrInvalidArgument):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrPayloadTooLarge):
		status = fiber.StatusRequestEntityTooLarge
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func SetupWorkflowRoutes(
	app *fiber.App,
	engine *services.WorkflowEngine,
	bulk *services.BulkApprovalCoordinator,
	stats *services.StatsService,
	caches *services.SessionCacheRegistry,
) {
	// 🔐 Secured routes — require user context forwarded by the Gateway
	securedGroup := app.Group("/s", middleware.UserContextMiddleware())

	// Session start: provision stage 1 if needed, count the login
	securedGroup.Post("/user/login", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		if err := engine.ProvisionUser(userID); err != nil {
			return errorResult(c, err)
		}
		if err := stats.RecordEvent(userID, services.LoginEvent{}); err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "login recorded",
		})
	})

	securedGroup.Get("/user/progress", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		records, err := engine.GetUserProgress(userID)
		if err != nil {
			return errorResult(c, err)
		}

		// Keep the session's view-model in step with the store
		cache := caches.ForSession(userID)
		refs := make([]*models.QuestProgress, len(records))
		for i := range records {
			refs[i] = &records[i]
		}
		cache.Hydrate(refs)

		return c.JSON(fiber.Map{
			"success":  true,
			"progress": cache.Snapshot(),
			"stages":   models.StageCatalog(),
		})
	})

	securedGroup.Get("/user/stats", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		userStats, err := stats.GetStats(userID)
		if err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"stats":   userStats,
		})
	})

	securedGroup.Post("/stage/submit", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		type submitReq struct {
			StageID int `json:"stage_id" form:"stage_id"`
		}
		var req submitReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}

		// Optional evidence attachment, stored ahead of the transition
		var attachmentURL *string
		if fileHeader, err := c.FormFile("attachment"); err == nil && fileHeader != nil {
			key := fmt.Sprintf("submissions/%s/%d/%s-%s", userID, req.StageID, uuid.NewString(), fileHeader.Filename)
			publicURL, upErr := utils.UploadAttachment(fileHeader, key)
			if upErr != nil {
				log.Printf("⚠️ attachment upload failed for %s stage %d: %v", userID, req.StageID, upErr)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success": false,
					"error":   "attachment upload failed",
				})
			}
			attachmentURL = &publicURL
		}

		// Optimistic local transition; the authoritative record replaces
		// it right after, success or not
		cache := caches.ForSession(userID)
		cache.ApplyOptimisticSubmit(userID, req.StageID)

		submitErr := engine.Submit(userID, req.StageID, attachmentURL)

		if rec, err := engine.GetUserProgress(userID); err == nil {
			for i := range rec {
				if rec[i].StageID == req.StageID {
					cache.Reconcile(&rec[i])
				}
			}
		}

		if submitErr != nil {
			return errorResult(c, submitErr)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": fmt.Sprintf("%s submitted for review", models.StageTitle(req.StageID)),
		})
	})

	// Reviewer endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware())

	adminGroup.Get("/quests/pending", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		records, total, err := engine.GetPendingReview(page, size)
		if err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"pending": records,
			"page":    page,
			"size":    size,
			"total":   total,
		})
	})

	adminGroup.Post("/quests/approve", func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)

		type approveReq struct {
			UserID  string `json:"user_id"`
			StageID int    `json:"stage_id"`
		}
		var req approveReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}

		unlockedNext, err := engine.Approve(reviewerID, req.UserID, req.StageID)
		if err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success":       true,
			"message":       fmt.Sprintf("%s approved for %s", models.StageTitle(req.StageID), req.UserID),
			"unlocked_next": unlockedNext,
		})
	})

	adminGroup.Post("/quests/reject", func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)

		type rejectReq struct {
			UserID  string `json:"user_id"`
			StageID int    `json:"stage_id"`
		}
		var req rejectReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}

		if err := engine.Reject(reviewerID, req.UserID, req.StageID); err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": fmt.Sprintf("%s returned to %s for resubmission", models.StageTitle(req.StageID), req.UserID),
		})
	})

	adminGroup.Post("/quests/bulk-approve", func(c *fiber.Ctx) error {
		reviewerID := c.Locals("user_id").(string)

		type bulkReq struct {
			Items []services.BulkItem `json:"items"`
		}
		var req bulkReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}

		result, err := bulk.ApproveAll(reviewerID, req.Items)
		if err != nil {
			return errorResult(c, err)
		}
		return c.JSON(fiber.Map{
			"success":       result.Success,
			"message":       fmt.Sprintf("%d approved, %d failed", result.SuccessCount, result.FailureCount),
			"success_count": result.SuccessCount,
			"failure_count": result.FailureCount,
			"failures":      result.Failures,
		})
	})
}
